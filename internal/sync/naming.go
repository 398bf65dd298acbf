package sync

import (
	"strings"

	"github.com/tonimelisma/musicsync/internal/config"
)

// FolderNestingProvider is the subset of provider.Provider naming needs.
type FolderNestingProvider interface {
	SupportsFolderNesting() bool
}

// ComputeRemoteName implements SPEC_FULL.md §4.7 / spec.md §4.7, grounded
// on original_source/src/worker.rs::compute_remote_playlist_name and
// src/util.rs::expand_template.
func ComputeRemoteName(cfg *config.Config, provider FolderNestingProvider, playlistKey string) string {
	root := strings.TrimSpace(cfg.OnlineRootPlaylist)

	normalized := strings.Trim(strings.ReplaceAll(playlistKey, "\\", "/"), "/")

	parentRel, folderName := splitParent(normalized)

	var pathToParentFS strings.Builder
	if root != "" {
		pathToParentFS.WriteString(root)
		pathToParentFS.WriteByte('/')
	}

	if parentRel != "" {
		pathToParentFS.WriteString(parentRel)
		pathToParentFS.WriteByte('/')
	}

	isFolderStyle := cfg.OnlinePlaylistStructure == "folders" && provider.SupportsFolderNesting()

	template := cfg.RemotePlaylistTemplate
	if isFolderStyle {
		if cfg.RemotePlaylistTemplateFolders != "" {
			template = cfg.RemotePlaylistTemplateFolders
		}
	} else if cfg.RemotePlaylistTemplateFlat != "" {
		template = cfg.RemotePlaylistTemplateFlat
	}

	pathToParent := pathToParentFS.String()

	if !isFolderStyle && cfg.OnlineFolderFlatteningDelimiter != "" {
		pathToParent = strings.ReplaceAll(pathToParent, "/", cfg.OnlineFolderFlatteningDelimiter)
	}

	if template == "" {
		if root != "" {
			if normalized == "" {
				return root
			}

			return root + "/" + normalized
		}

		return normalized
	}

	return expandTemplate(template, folderName, pathToParent)
}

// ExpandDescriptionTemplate expands the same ${folder_name}-style
// placeholders as ComputeRemoteName into a playlist description, per
// SPEC_FULL.md §9's resolution of the playlist_description_template Open
// Question: consumed only at ensure_playlist time.
func ExpandDescriptionTemplate(template, playlistKey string) string {
	_, folderName := splitParent(strings.Trim(strings.ReplaceAll(playlistKey, "\\", "/"), "/"))

	return expandTemplate(template, folderName, "")
}

func splitParent(normalized string) (parentRel, folderName string) {
	idx := strings.LastIndex(normalized, "/")
	if idx < 0 {
		return "", normalized
	}

	return normalized[:idx], normalized[idx+1:]
}

// expandTemplate substitutes the placeholders named in SPEC_FULL.md §9:
// ${folder_name}, ${path_to_parent}, and ${relative_path} (the full
// logical path, path_to_parent + folder_name).
func expandTemplate(template, folderName, pathToParent string) string {
	r := strings.NewReplacer(
		"${folder_name}", folderName,
		"${path_to_parent}", pathToParent,
		"${relative_path}", pathToParent+folderName,
	)

	return r.Replace(template)
}
