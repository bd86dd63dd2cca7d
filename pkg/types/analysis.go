package types

// Variation is one candidate line parsed from an engine's analysis output:
// visit count, the parenthesized statistics, and the principal variation.
type Variation struct {
	Visits    int               `json:"visits"`
	Stats     map[string]string `json:"stats"`
	Variation []string          `json:"variation"`
}

// AnalysisResult bundles the raw GTP response with the parsed variations.
type AnalysisResult struct {
	RespStr    string      `json:"respstr"`
	Variations []Variation `json:"variations"`
}

// AnalysisRequest is the POST /analysis payload. Moves are (color, coord)
// pairs, e.g. ["B", "Q16"].
type AnalysisRequest struct {
	Moves    [][2]string `json:"moves"`
	Playouts int         `json:"playouts,omitempty"`
	Engine   string      `json:"engine,omitempty"`
	Size     int         `json:"size,omitempty"`
	Komi     float64     `json:"komi,omitempty"`
	Genmove  string      `json:"genmove"`
}
