package fare

import (
	"math"
	"strings"
	"time"

	"github.com/example/trike-dispatch/internal/models"
)

// Hard defaults used when neither reference table knows the
// destination. The per-km spread bounds the quote in place of the
// usual variance band.
const (
	floorBaseFare  = 25
	floorPerKmLow  = 10
	floorPerKmHigh = 15
	floorMinFare   = 15
)

const (
	discountRate = 0.20
	errandRate   = 0.20
	varianceBand = 0.05
)

// Request carries everything a quote depends on. DistanceKm may be
// zero when the client has no fix; matrix destinations do not need it.
type Request struct {
	Destination string
	DistanceKm  float64
	Night       bool
	Senior      bool
	PWD         bool
	Errand      bool
}

// Quote is the priced result. Found=false means neither table knew the
// destination and the hard defaults produced the numbers; that is a
// normal outcome, not an error.
type Quote struct {
	Min            int64               `json:"min"`
	Max            int64               `json:"max"`
	Base           int64               `json:"base"`
	Fare           int64               `json:"fare"`
	DiscountAmount int64               `json:"discount_amount"`
	DiscountType   models.DiscountType `json:"discount_type,omitempty"`
	Found          bool                `json:"found"`
	Source         string              `json:"source"`
}

const (
	SourceMatrix = "matrix"
	SourceRate   = "rate"
	SourceFloor  = "floor"
)

// Engine prices trips from static reference data. It holds no mutable
// state: the same request always yields the same quote.
type Engine struct {
	originPrefix string
	routes       []Route
	rates        []BarangayRate
	aliases      map[string]string
}

// NewEngine builds an engine over the given matrix and rate rows. Nil
// slices fall back to the built-in San Isidro tables; rate rows are
// reduced to their newest active version.
func NewEngine(routes []Route, rates []BarangayRate, originPrefix string) *Engine {
	if routes == nil {
		routes = DefaultRoutes()
	}
	if rates == nil {
		rates = DefaultRates()
	}
	if originPrefix == "" {
		originPrefix = "SAN ISIDRO"
	}
	return &Engine{
		originPrefix: strings.ToUpper(strings.TrimSpace(originPrefix)),
		routes:       routes,
		rates:        LatestRates(rates, time.Now()),
		aliases:      defaultAliases,
	}
}

// Quote prices a trip: fixed matrix first, per-barangay rate second,
// hard defaults last. It never fails; the Found flag tells callers
// which side of that line the numbers came from.
func (e *Engine) Quote(req Request) Quote {
	dest := normalizeDestination(req.Destination, e.originPrefix, e.aliases)
	dtype := pickDiscount(req.Senior, req.PWD)

	if r, ok := findRoute(e.routes, dest); ok {
		return quoteFromRoute(r, req, dtype)
	}
	if rate, ok := findRate(e.rates, dest); ok {
		return quoteFromRate(rate, req, dtype)
	}
	return quoteFloor(req, dtype)
}

// pickDiscount: senior wins when both flags arrive set; the two never
// stack.
func pickDiscount(senior, pwd bool) models.DiscountType {
	switch {
	case senior:
		return models.DiscountSenior
	case pwd:
		return models.DiscountPWD
	}
	return models.DiscountNone
}

func quoteFromRoute(r Route, req Request, dtype models.DiscountType) Quote {
	base := r.Regular
	if req.Errand {
		base += roundPeso(float64(r.Regular) * errandRate)
	}
	var discount int64
	if dtype != models.DiscountNone {
		if req.Errand {
			// the published pair no longer applies once the errand
			// surcharge moves the base
			discount = roundPeso(float64(base) * discountRate)
		} else {
			discount = r.Regular - r.Discounted
		}
	}
	fare := base - discount
	if fare < 0 {
		fare = 0
	}
	return Quote{
		Min:            fare,
		Max:            fare,
		Base:           base,
		Fare:           fare,
		DiscountAmount: discount,
		DiscountType:   dtype,
		Found:          true,
		Source:         SourceMatrix,
	}
}

func quoteFromRate(r BarangayRate, req Request, dtype models.DiscountType) Quote {
	est := float64(r.BaseFare) + req.DistanceKm*r.PerKm
	if req.Night {
		est += float64(r.NightSurcharge)
	}
	if req.Errand {
		est += math.Round(est * errandRate)
	}
	base := roundPeso(est)
	var discount int64
	if dtype != models.DiscountNone {
		discount = roundPeso(est * discountRate)
	}
	fare := base - discount
	if fare < 0 {
		fare = 0
	}
	if fare < r.MinFare {
		fare = r.MinFare
	}
	lo := clampMin(roundPeso(float64(fare)*(1-varianceBand)), r.MinFare)
	hi := clampMin(roundPeso(float64(fare)*(1+varianceBand)), r.MinFare)
	return Quote{
		Min:            lo,
		Max:            hi,
		Base:           base,
		Fare:           fare,
		DiscountAmount: discount,
		DiscountType:   dtype,
		Found:          true,
		Source:         SourceRate,
	}
}

// quoteFloor prices a destination neither table knows. The per-km
// spread stands in for the variance band; the point fare sits on the
// low bound, the one a dispatcher would post before haggling.
func quoteFloor(req Request, dtype models.DiscountType) Quote {
	lo := floorBaseFare + req.DistanceKm*floorPerKmLow
	hi := floorBaseFare + req.DistanceKm*floorPerKmHigh
	if req.Errand {
		lo += math.Round(lo * errandRate)
		hi += math.Round(hi * errandRate)
	}
	var dLo, dHi int64
	if dtype != models.DiscountNone {
		dLo = roundPeso(lo * discountRate)
		dHi = roundPeso(hi * discountRate)
	}
	minFare := clampMin(roundPeso(lo)-dLo, floorMinFare)
	maxFare := clampMin(roundPeso(hi)-dHi, floorMinFare)
	if maxFare < minFare {
		maxFare = minFare
	}
	return Quote{
		Min:            minFare,
		Max:            maxFare,
		Base:           roundPeso(lo),
		Fare:           minFare,
		DiscountAmount: dLo,
		DiscountType:   dtype,
		Found:          false,
		Source:         SourceFloor,
	}
}

// IsNightHour reports whether h (0..23) falls inside the night
// surcharge window, 22:00 through 04:59.
func IsNightHour(h int) bool {
	return h >= 22 || h < 5
}

func roundPeso(v float64) int64 {
	return int64(math.Round(v))
}

func clampMin(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
