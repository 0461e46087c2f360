package tool

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CategoryBuiltin tags the tools registered by RegisterBuiltins.
const CategoryBuiltin = "builtin"

// BuiltinConfig controls the built-in tool set. Root confines every file
// tool; paths resolving outside it are rejected.
type BuiltinConfig struct {
	Root       string
	HTTPClient *http.Client
}

// RegisterBuiltins registers the out-of-the-box tools: time retrieval, file
// read/write, directory listing, glob search, safe arithmetic, and web page
// text extraction.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("resolve builtin root: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	for _, t := range builtins(root, cfg.HTTPClient) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func builtins(root string, httpClient *http.Client) []*Tool {
	return []*Tool{
		{
			Name:        "current_time",
			Description: "Returns the current time. Format is 'rfc3339' (default) or 'unix'.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "format", Type: "string", Description: "Output format", Enum: []string{"rfc3339", "unix"}},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				now := time.Now()
				if format, _ := args["format"].(string); format == "unix" {
					return fmt.Sprintf("%d", now.Unix()), nil
				}
				return now.Format(time.RFC3339), nil
			},
		},
		{
			Name:        "read_file",
			Description: "Reads a text file under the configured root directory.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "File path relative to the root", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := resolveUnder(root, stringArg(args, "path"))
				if err != nil {
					return "", err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", fmt.Errorf("read %s: %w", path, err)
				}
				return string(data), nil
			},
		},
		{
			Name:        "write_file",
			Description: "Writes content to a file under the configured root directory.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "File path relative to the root", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := resolveUnder(root, stringArg(args, "path"))
				if err != nil {
					return "", err
				}
				content := stringArg(args, "content")
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return "", err
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return "", fmt.Errorf("write %s: %w", path, err)
				}
				return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
			},
		},
		{
			Name:        "list_dir",
			Description: "Lists directory entries under the configured root directory.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Directory path relative to the root", Default: "."},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				rel := stringArg(args, "path")
				if rel == "" {
					rel = "."
				}
				path, err := resolveUnder(root, rel)
				if err != nil {
					return "", err
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return "", fmt.Errorf("list %s: %w", path, err)
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				return strings.Join(names, "\n"), nil
			},
		},
		{
			Name:        "search_files",
			Description: "Finds files matching a glob pattern under the configured root directory.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "pattern", Type: "string", Description: "Glob pattern, e.g. *.go or docs/*.md", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				pattern := stringArg(args, "pattern")
				if strings.Contains(pattern, "..") {
					return "", fmt.Errorf("pattern must not escape the root")
				}
				matches, err := filepath.Glob(filepath.Join(root, pattern))
				if err != nil {
					return "", fmt.Errorf("bad pattern %q: %w", pattern, err)
				}
				rels := make([]string, 0, len(matches))
				for _, m := range matches {
					if rel, err := filepath.Rel(root, m); err == nil {
						rels = append(rels, rel)
					}
				}
				return strings.Join(rels, "\n"), nil
			},
		},
		{
			Name:        "calculate",
			Description: "Evaluates an arithmetic expression with + - * / % and parentheses. No variables, no function calls.",
			Category:    CategoryBuiltin,
			Parameters: []Parameter{
				{Name: "expression", Type: "string", Description: "Arithmetic expression, e.g. (2+3)*4", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return Evaluate(stringArg(args, "expression"))
			},
		},
		fetchPageTool(httpClient),
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// resolveUnder joins rel onto root and rejects any path escaping it.
func resolveUnder(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, rel)
	}
	path = filepath.Clean(path)
	relToRoot, err := filepath.Rel(root, path)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the tool root", rel)
	}
	return path, nil
}
