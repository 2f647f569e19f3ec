package toolcall

import (
	"sort"
	"strings"
)

// toolAliases maps names models commonly invent to the registered tool.
var toolAliases = map[string]string{
	"ls":              "list_directory",
	"list_dir":        "list_directory",
	"list_files":      "list_directory",
	"cat":             "read_file",
	"open_file":       "read_file",
	"create_file":     "write_file",
	"edit_file":       "replace",
	"grep":            "search_file_content",
	"search":          "search_file_content",
	"find_files":      "glob",
	"shell":           "run_shell_command",
	"bash":            "run_shell_command",
	"run_command":     "run_shell_command",
	"execute_command": "run_shell_command",
}

// globalSynonyms applies to every tool after the per-tool table.
var globalSynonyms = map[string]string{
	"path":          "file_path",
	"filepath":      "file_path",
	"file":          "file_path",
	"filename":      "file_path",
	"file_name":     "file_path",
	"absolute_path": "file_path",
	"cmd":           "command",
	"shell_command": "command",
	"old":           "old_string",
	"old_text":      "old_string",
	"old_str":       "old_string",
	"new":           "new_string",
	"new_text":      "new_string",
	"new_str":       "new_string",
	"text":          "content",
	"contents":      "content",
	"directory":     "dir_path",
	"dir":           "dir_path",
	"folder":        "dir_path",
	"regex":         "pattern",
	"query":         "pattern",
}

var dirSynonyms = map[string]string{
	"path":      "dir_path",
	"directory": "dir_path",
	"dir":       "dir_path",
	"folder":    "dir_path",
}

// toolSynonyms override the global table for tools whose "path" means a
// directory.
var toolSynonyms = map[string]map[string]string{
	"list_directory":      dirSynonyms,
	"glob":                dirSynonyms,
	"search_file_content": dirSynonyms,
}

// Normalize canonicalises the tool name and argument keys of c. A canonical
// key already present is never overwritten by a synonym.
func Normalize(c Call) Call {
	name := strings.TrimSpace(c.Name)
	if alias, ok := toolAliases[name]; ok {
		name = alias
	}
	out := Call{Name: name, Args: make(map[string]any, len(c.Args))}

	perTool := toolSynonyms[name]
	// Canonical keys first so synonyms cannot clobber them.
	for k, v := range c.Args {
		if _, syn := perTool[k]; syn {
			continue
		}
		if _, syn := globalSynonyms[k]; syn {
			continue
		}
		out.Args[k] = v
	}
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		canon, ok := perTool[k]
		if !ok {
			canon, ok = globalSynonyms[k]
		}
		if !ok {
			continue
		}
		if _, exists := out.Args[canon]; !exists {
			out.Args[canon] = c.Args[k]
		}
	}
	return out
}
