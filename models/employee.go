package models

type EmployeeResponse struct {
	Name         string `json:"name"`
	ReferenceId  string `json:"reference_id"`
	Address      string `json:"address"`
	HasReference bool   `json:"has_reference"`
}

type CardResolveRequest struct {
	Link string `json:"link"`
}

type CardResolveResponse struct {
	Name           string            `json:"name"`
	Date           string            `json:"date,omitempty"`
	IssuedOn       string            `json:"issued_on,omitempty"` // Date normalised to YYYY-MM-DD
	Address        string            `json:"address,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	Matched        bool              `json:"matched"`
	Employee       *EmployeeResponse `json:"employee,omitempty"`
	AddressMatches string            `json:"address_matches,omitempty"` // Yes or No, only when matched
}
