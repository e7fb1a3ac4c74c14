package vectorstore

import "regexp"

var (
	invalidRunes   = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	repeatedUnders = regexp.MustCompile(`_+`)
	leadingJunk    = regexp.MustCompile(`^[^a-zA-Z0-9]+`)
	trailingJunk   = regexp.MustCompile(`[^a-zA-Z0-9]+$`)
)

// CollectionName sanitizes a project name into a valid collection name:
// 3-63 characters, alphanumerics/underscores/hyphens only, starting and
// ending with an alphanumeric.
func CollectionName(project string) string {
	name := invalidRunes.ReplaceAllString(project, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	name = leadingJunk.ReplaceAllString(name, "")
	name = trailingJunk.ReplaceAllString(name, "")

	if len(name) < 3 {
		name += "_collection"
	}
	if len(name) > 63 {
		name = name[:63]
		name = trailingJunk.ReplaceAllString(name, "")
	}
	return name
}
