// ABOUTME: Embeds the control panel templates into the binary using go:embed
// ABOUTME: templateFS holds the page and the pending-cards partial

package webadmin

import "embed"

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS
