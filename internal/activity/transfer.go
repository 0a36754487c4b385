package activity

import (
	"fmt"
	"regexp"
)

// Shared plumbing for the file-transfer activities (sftp, s3, smb). They all
// speak the same config dialect: method get/put, folder, local_folder,
// regex_filter on get, files + overwrite (+ create_folder where the protocol
// has directories) on put.

// transferMethod validates config["method"].
func transferMethod(kind string, config map[string]interface{}) (string, error) {
	method, ok := config["method"].(string)
	if !ok || (method != "get" && method != "put") {
		return "", fmt.Errorf("%s activity: config field 'method' must be 'get' or 'put'", kind)
	}
	return method, nil
}

// compileNameFilter validates and compiles regex_filter. The compile check
// happens before any I/O so a bad pattern fails fast. Returns nil when no
// filter is configured.
func compileNameFilter(kind string, config map[string]interface{}) (*regexp.Regexp, error) {
	raw, ok := config["regex_filter"].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	filter, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%s activity: invalid regex_filter %q: %w", kind, raw, err)
	}
	return filter, nil
}

// localFolder returns config["local_folder"], defaulting to the working dir.
func localFolder(config map[string]interface{}) string {
	if dir, ok := config["local_folder"].(string); ok && dir != "" {
		return dir
	}
	return "."
}

// uploadNames collects the string entries of config["files"].
func uploadNames(config map[string]interface{}) []string {
	raw, ok := config["files"].([]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// overwriteEnabled reports whether put may replace existing remote files
// (default true).
func overwriteEnabled(config map[string]interface{}) bool {
	if ow, ok := config["overwrite"].(bool); ok {
		return ow
	}
	return true
}

// downloadOutput and uploadOutput build the uniform activity outputs. A nil
// slice is normalised to an empty one so the JSON shape is stable.
func downloadOutput(names []string) map[string]interface{} {
	if names == nil {
		names = []string{}
	}
	return map[string]interface{}{"files_downloaded": names, "count": len(names)}
}

func uploadOutput(names []string) map[string]interface{} {
	if names == nil {
		names = []string{}
	}
	return map[string]interface{}{"files_uploaded": names, "count": len(names)}
}
