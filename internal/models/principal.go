package models

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Subject   string
	AccountID string
	Role      Role
	Account   *Account
}

// IsService reports whether the principal came from a service token.
func (p *Principal) IsService() bool {
	return p != nil && p.Role == RoleService
}

// PrincipalInfo is the JSON shape of the current principal.
type PrincipalInfo struct {
	Subject   string `json:"subject"`
	AccountID string `json:"accountId,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
}

// Info projects the principal for API responses.
func (p *Principal) Info() PrincipalInfo {
	info := PrincipalInfo{Subject: p.Subject, AccountID: p.AccountID, Role: p.Role}
	if p.Account != nil {
		info.Email = p.Account.Email
	}
	return info
}
