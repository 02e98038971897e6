package recordfiles

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/record-files/pkg/recordfiles/artifactkey"
)

// LinkName names an API link exposed on a file entry.
type LinkName string

// Link names.
const (
	LinkSelf      LinkName = "self"
	LinkContent   LinkName = "content"
	LinkCommit    LinkName = "commit"
	LinkPreview   LinkName = "preview"
	LinkThumbnail LinkName = "thumbnail"
)

// PreviewableMimeTypes lists the source mimetypes that get preview and
// thumbnail links.
var PreviewableMimeTypes = []string{"application/pdf", "image/jpeg", "image/png"}

// LinkPolicy decides which links a file entry exposes.
type LinkPolicy struct {
	Previewable []string
}

// DefaultLinkPolicy returns the policy used by the service.
func DefaultLinkPolicy() LinkPolicy {
	return LinkPolicy{Previewable: PreviewableMimeTypes}
}

// VisibleLinks returns the links of file in a stable order. self, content
// and commit are always present; preview and thumbnail only for primary
// files with a previewable mimetype. The thumbnail link is a templated
// reference and may point to an artifact that was never generated.
func (p LinkPolicy) VisibleLinks(file *File) []LinkName {
	links := []LinkName{LinkSelf, LinkContent, LinkCommit}
	if p.previewable(file) {
		links = append(links, LinkPreview, LinkThumbnail)
	}
	return links
}

func (p LinkPolicy) previewable(file *File) bool {
	if file == nil || file.IsDerived() {
		return false
	}
	for _, m := range p.Previewable {
		if file.MimeType == m {
			return true
		}
	}
	return false
}

// LinkTemplates renders link names into URLs. {api} and {ui} are replaced
// by the base URLs, {id} by the record id, {key} by the file key and
// {thumb} by the derived thumbnail key.
type LinkTemplates struct {
	APIBaseURL string
	UIBaseURL  string
	Templates  map[LinkName]string
}

// DefaultLinkTemplates returns the templates of the records API.
func DefaultLinkTemplates(apiBaseURL, uiBaseURL string) LinkTemplates {
	return LinkTemplates{
		APIBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		UIBaseURL:  strings.TrimSuffix(uiBaseURL, "/"),
		Templates: map[LinkName]string{
			LinkSelf:      "{api}/records/{id}/files/{key}",
			LinkContent:   "{api}/records/{id}/files/{key}/content",
			LinkCommit:    "{api}/records/{id}/files/{key}/commit",
			LinkPreview:   "{ui}/records/preview/{id}/{key}",
			LinkThumbnail: "{api}/records/{id}/files/{thumb}/content",
		},
	}
}

// Render expands the visible links of file. A thumbnail link whose key
// cannot be derived is left out.
func (t LinkTemplates) Render(policy LinkPolicy, recordID uuid.UUID, file *File) map[string]string {
	out := make(map[string]string)
	for _, name := range policy.VisibleLinks(file) {
		tmpl, ok := t.Templates[name]
		if !ok {
			continue
		}
		thumb := ""
		if name == LinkThumbnail {
			key, err := artifactkey.Thumbnail(file.Key)
			if err != nil {
				continue
			}
			thumb = key
		}
		out[string(name)] = strings.NewReplacer(
			"{api}", t.APIBaseURL,
			"{ui}", t.UIBaseURL,
			"{id}", recordID.String(),
			"{key}", file.Key,
			"{thumb}", thumb,
		).Replace(tmpl)
	}
	return out
}
