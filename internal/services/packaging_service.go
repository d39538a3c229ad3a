package services

import (
	"sort"

	"github.com/ssiegel/grocy-station/internal/models"
)

const (
	barcodePackagingName      = "Barcode PU"
	quickConsumePackagingName = "Quick C"
	quickOpenPackagingName    = "Quick O"
)

// PackagingUnits is ordered by increasing stock amount, except that the default
// consumption unit is always at index 0.
type PackagingUnits []models.PackagingUnit

// Base returns the default consumption unit
func (p PackagingUnits) Base() (models.PackagingUnit, bool) {
	if len(p) == 0 {
		return models.PackagingUnit{}, false
	}
	return p[0], true
}

// BuildPackagingUnits derives the packaging units of a scanned product. A barcode that
// declares its own amount and unit defines the base unit and may add multiples of it in
// its packaging_units userfield; otherwise the product's quick consume/open amounts are used.
func BuildPackagingUnits(details *models.ProductDetails, barcode *models.ProductBarcode, factors ConversionFactors, units UnitLookup) (PackagingUnits, error) {
	var (
		pus PackagingUnits
		err error
	)
	if barcode != nil && barcode.Amount != nil && barcode.QuID != nil {
		pus, err = buildBarcodePackagingUnits(barcode, factors, units)
	} else {
		pus, err = buildProductPackagingUnits(details, factors, units)
	}
	if err != nil {
		return nil, err
	}
	sortPackagingUnits(pus)
	return pus, nil
}

func buildBarcodePackagingUnits(barcode *models.ProductBarcode, factors ConversionFactors, units UnitLookup) (PackagingUnits, error) {
	factor, err := factors.Factor(*barcode.QuID)
	if err != nil {
		return nil, err
	}
	amount := *barcode.Amount
	baseStock := amount * factor

	pus := PackagingUnits{{
		Name:          barcodePackagingName,
		AmountDisplay: FormatNumber(amount, units, *barcode.QuID),
		Amount:        baseStock,
	}}
	for _, line := range ParsePackagingLines(barcode.PackagingUnitsText()) {
		ratio := line.Ratio()
		if ratio == 1 {
			pus[0].Name = line.Name
			continue
		}
		pus = append(pus, models.PackagingUnit{
			Name:          line.Name,
			AmountDisplay: FormatNumber(amount*ratio, units, *barcode.QuID),
			Amount:        baseStock * ratio,
		})
	}
	return pus, nil
}

type quickAmount struct {
	name   string
	amount float64
}

func buildProductPackagingUnits(details *models.ProductDetails, factors ConversionFactors, units UnitLookup) (PackagingUnits, error) {
	product := details.Product
	factor, err := factors.Factor(product.QuIDConsume)
	if err != nil {
		return nil, err
	}

	quick := []quickAmount{{quickConsumePackagingName, product.QuickConsumeAmount}}
	if product.QuickOpenAmount != product.QuickConsumeAmount {
		quick = append(quick, quickAmount{quickOpenPackagingName, product.QuickOpenAmount})
	}

	pus := make(PackagingUnits, 0, len(quick))
	for _, q := range quick {
		pus = append(pus, models.PackagingUnit{
			Name:          q.name,
			AmountDisplay: FormatNumber(q.amount/factor, units, product.QuIDConsume),
			Amount:        q.amount,
		})
	}
	return pus, nil
}

// sortPackagingUnits keeps pus[0] in place and orders the rest ascending
func sortPackagingUnits(pus PackagingUnits) {
	if len(pus) < 3 {
		return
	}
	rest := pus[1:]
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Amount < rest[j].Amount })
}
