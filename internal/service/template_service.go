// internal/service/template_service.go
package service

import (
    "strings"
)

// RenderTemplate substitutes {key} placeholders with the contact's variables.
// Empty values render as "N/A"; the list is validated upstream, so a missing
// variable is cosmetic, not an error.
func RenderTemplate(template string, vars map[string]string) string {
    result := template
    for k, v := range vars {
        if v == "" {
            v = "N/A"
        }
        result = strings.ReplaceAll(result, "{"+k+"}", v)
    }
    return result
}
