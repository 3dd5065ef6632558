package tags

// ReferenceType identifies the kind of owner a Tag belongs to.
type ReferenceType string

const ReferenceOrganization ReferenceType = "ORGANIZATION"

// DefaultOrganizationID is the identifier of the organization that
// every installation has.
const DefaultOrganizationID = "DEFAULT"

// Organization is the owner of sharding tags.
type Organization struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name"`
}

// DefaultOrganization returns the default organization.
func DefaultOrganization() *Organization {
	return &Organization{ID: DefaultOrganizationID, Name: "Default organization"}
}

// Tag describes a sharding tag as it is managed by an organization.
type Tag struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	Description      string        `json:"description,omitempty" yaml:"description"`
	RestrictedGroups []string      `json:"restrictedGroups,omitempty" yaml:"restricted-groups"`
	ReferenceID      string        `json:"referenceId" yaml:"reference-id"`
	ReferenceType    ReferenceType `json:"referenceType" yaml:"reference-type"`
}

// ApplicableTo tells whether the tag can be used by the organization.
// Tags are visible to the default organization and to the organization
// that owns them.
func (t *Tag) ApplicableTo(org *Organization) bool {
	if t == nil || org == nil {
		return false
	}

	return org.ID == DefaultOrganizationID || t.ReferenceID == org.ID
}

// HasTag is the organization side of ApplicableTo.
func (o *Organization) HasTag(t *Tag) bool {
	if t == nil {
		return false
	}

	return t.ApplicableTo(o)
}
