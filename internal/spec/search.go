package spec

// Search operators understood by the platform.
const (
	OpEquals      = "EQUALS"
	OpGreaterThan = "GREATER_THAN"
	OpLessThan    = "LESS_THAN"
)

// Filter selects alerts. Empty fields do not constrain.
type Filter struct {
	Status          string   `json:"status,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	AlertType       string   `json:"alert_type,omitempty"`
	MinAnomalyScore *float64 `json:"min_anomaly_score,omitempty"`
	DateFrom        string   `json:"date_from,omitempty"`
	DateTo          string   `json:"date_to,omitempty"`
}

// Condition is a simple or grouped search condition.
type Condition struct {
	Type         string      `json:"type"`
	JSONPath     string      `json:"jsonPath,omitempty"`
	OperatorType string      `json:"operatorType,omitempty"`
	Value        interface{} `json:"value,omitempty"`
	Operator     string      `json:"operator,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
}

// SearchRequest is the platform search specification.
type SearchRequest struct {
	EntityModel      string     `json:"entity_model"`
	EntityVersion    string     `json:"entity_version"`
	SearchConditions *Condition `json:"search_conditions"`
}

// Conditions lists the simple conditions implied by f, in a fixed order.
func (f Filter) Conditions() []Condition {
	var out []Condition
	add := func(path, op string, v interface{}) {
		out = append(out, Condition{Type: "simple", JSONPath: path, OperatorType: op, Value: v})
	}
	if f.Status != "" {
		add("$.status", OpEquals, f.Status)
	}
	if f.Severity != "" {
		add("$.severity", OpEquals, f.Severity)
	}
	if f.AlertType != "" {
		add("$.alert_type", OpEquals, f.AlertType)
	}
	if f.MinAnomalyScore != nil {
		add("$.anomaly_score", OpGreaterThan, *f.MinAnomalyScore)
	}
	if f.DateFrom != "" {
		add("$.date", OpGreaterThan, f.DateFrom)
	}
	if f.DateTo != "" {
		add("$.date", OpLessThan, f.DateTo)
	}
	return out
}

// Search builds the search specification for f. No filters yields a nil
// condition (match all); one filter is sent bare; several are AND-grouped.
func Search(f Filter) SearchRequest {
	req := SearchRequest{EntityModel: EntityModel, EntityVersion: EntityVersion}
	conds := f.Conditions()
	switch len(conds) {
	case 0:
	case 1:
		req.SearchConditions = &conds[0]
	default:
		req.SearchConditions = &Condition{Type: "group", Operator: "AND", Conditions: conds}
	}
	return req
}
