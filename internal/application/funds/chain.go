package funds

// Inputs are the candidate figures for effective funds. Nil means the source
// did not provide a value; a present zero is a value.
type Inputs struct {
	Explicit    *float64
	DerivedCash *float64
	BuyingPower *float64
	SettledCash *float64
}

// Link is one step of the fallback chain.
type Link struct {
	Name string
	Get  func(Inputs) *float64
}

// SourceNone is reported when no link had a value.
const SourceNone = "none"

// Chain is the priority order every consumer of effective funds relies on.
// Evaluated top to bottom; the first present value wins; 0 when none is.
var Chain = []Link{
	{Name: "explicit", Get: func(in Inputs) *float64 { return in.Explicit }},
	{Name: "derived_cash", Get: func(in Inputs) *float64 { return in.DerivedCash }},
	{Name: "buying_power", Get: func(in Inputs) *float64 { return in.BuyingPower }},
	{Name: "settled_cash", Get: func(in Inputs) *float64 { return in.SettledCash }},
}

// Resolve walks Chain and returns the winning value and the link that gave it.
func Resolve(in Inputs) (float64, string) {
	for _, link := range Chain {
		if v := link.Get(in); v != nil {
			return *v, link.Name
		}
	}
	return 0, SourceNone
}

// Effective is Resolve without the source name.
func Effective(in Inputs) float64 {
	v, _ := Resolve(in)
	return v
}
