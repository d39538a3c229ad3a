package services

import (
	"context"
	"fmt"
	"math"

	"github.com/ssiegel/grocy-station/internal/models"
)

// ConversionFactors maps a quantity unit id to the number of stock units in one of it.
// The stock unit itself always maps to exactly 1.
type ConversionFactors map[int]float64

// Factor returns the factor of quID or a *ConversionMissingError
func (f ConversionFactors) Factor(quID int) (float64, error) {
	factor, ok := f[quID]
	if !ok || math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return 0, &ConversionMissingError{UnitID: quID}
	}
	return factor, nil
}

// ConversionFetcher looks up resolved unit conversions of one product
type ConversionFetcher interface {
	GetQUConversions(ctx context.Context, productID, toQuID int) ([]models.QUConversion, error)
}

// UoMConversionService builds the per-product conversion map to stock units
type UoMConversionService struct {
	api ConversionFetcher
}

func NewUoMConversionService(api ConversionFetcher) *UoMConversionService {
	return &UoMConversionService{api: api}
}

// Resolve seeds the map from the product details and asks Grocy for the resolved
// conversions only when the consume unit or the barcode unit is still unknown.
func (s *UoMConversionService) Resolve(ctx context.Context, details *models.ProductDetails, barcode *models.ProductBarcode) (ConversionFactors, error) {
	product := details.Product
	factors := ConversionFactors{
		product.QuIDPurchase: details.QuConversionFactorPurchaseToStock,
		product.QuIDPrice:    details.QuConversionFactorPriceToStock,
	}
	factors[product.QuIDStock] = 1.0

	needed := []int{product.QuIDConsume}
	if barcode != nil && barcode.QuID != nil {
		needed = append(needed, *barcode.QuID)
	}
	missing := false
	for _, quID := range needed {
		if _, ok := factors[quID]; !ok {
			missing = true
			break
		}
	}
	if !missing {
		return factors, nil
	}

	conversions, err := s.api.GetQUConversions(ctx, product.ID, product.QuIDStock)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit conversions of product %d: %w", product.ID, err)
	}
	for _, c := range conversions {
		factors[c.FromQuID] = c.Factor
	}
	factors[product.QuIDStock] = 1.0
	return factors, nil
}
