package fare

import "strings"

// Route is one row of the published tricycle fare matrix: a fixed
// regular/discounted peso pair for trips from the town terminal to a
// barangay or landmark.
type Route struct {
	Destination string
	Regular     int64
	Discounted  int64
}

// defaultRoutes is the San Isidro matrix as posted at the terminal.
// Discounted fares are the published senior/PWD values, not a computed
// percentage.
var defaultRoutes = []Route{
	{Destination: "POBLACION", Regular: 13, Discounted: 10},
	{Destination: "MAGSAYSAY", Regular: 15, Discounted: 12},
	{Destination: "RIZAL", Regular: 15, Discounted: 12},
	{Destination: "SAN ROQUE", Regular: 18, Discounted: 14},
	{Destination: "SANTO NIÑO", Regular: 18, Discounted: 14},
	{Destination: "SUGOD", Regular: 20, Discounted: 16},
	{Destination: "BAGONG SILANG", Regular: 22, Discounted: 18},
	{Destination: "MALINAO", Regular: 25, Discounted: 20},
	{Destination: "CONSOLACION", Regular: 28, Discounted: 22},
	{Destination: "LIBERTAD", Regular: 30, Discounted: 24},
	{Destination: "MABINI", Regular: 30, Discounted: 24},
	{Destination: "DEL PILAR", Regular: 32, Discounted: 26},
	{Destination: "CONCEPCION", Regular: 35, Discounted: 28},
	{Destination: "BUENAVISTA", Regular: 38, Discounted: 30},
	{Destination: "KATIPUNAN", Regular: 40, Discounted: 32},
	{Destination: "BAGACAY", Regular: 45, Discounted: 36},
	{Destination: "SAN VICENTE", Regular: 50, Discounted: 40},
	{Destination: "CANTANDOY", Regular: 60, Discounted: 48},
}

// defaultAliases maps the names passengers actually type to matrix rows.
var defaultAliases = map[string]string{
	"POB":           "POBLACION",
	"CENTRO":        "POBLACION",
	"TOWN PROPER":   "POBLACION",
	"BAYAN":         "POBLACION",
	"PUBLIC MARKET": "POBLACION",
	"STO NIÑO":      "SANTO NIÑO",
	"STO. NIÑO":     "SANTO NIÑO",
	"STO NINO":      "SANTO NIÑO",
}

// DefaultRoutes returns a copy of the built-in fare matrix.
func DefaultRoutes() []Route {
	return append([]Route(nil), defaultRoutes...)
}

// normalizeDestination folds case, collapses whitespace, strips the
// origin prefix riders often include ("SAN ISIDRO - SUGOD"), and
// resolves aliases to their canonical matrix name.
func normalizeDestination(dest, originPrefix string, aliases map[string]string) string {
	s := strings.ToUpper(strings.TrimSpace(dest))
	s = strings.Trim(s, " .,-")
	s = strings.Join(strings.Fields(s), " ")

	if originPrefix != "" && strings.HasPrefix(s, originPrefix) {
		rest := strings.TrimLeft(s[len(originPrefix):], " -,")
		rest = strings.TrimPrefix(rest, "TO ")
		rest = strings.TrimSpace(rest)
		if rest != "" {
			s = rest
		}
	}

	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

// findRoute looks for a matrix row matching the normalized destination,
// exact first, then substring either way. Short strings skip the
// substring pass so a stray two-letter input cannot match half the
// table.
func findRoute(routes []Route, dest string) (Route, bool) {
	for _, r := range routes {
		if r.Destination == dest {
			return r, true
		}
	}
	if len(dest) < 4 {
		return Route{}, false
	}
	for _, r := range routes {
		if containsEither(dest, r.Destination) {
			return r, true
		}
	}
	return Route{}, false
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}
