// internal/model/contact.go
package model

// Contact is one entry of the already-validated, deduplicated list supplied
// by contact-list resolution at campaign start. Variables feed the template.
type Contact struct {
    ID          int               `db:"id" json:"id"`
    Destination string            `db:"destination" json:"destination"`
    Variables   map[string]string `db:"-" json:"variables"`
}
