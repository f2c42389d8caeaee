// Package tools provides the builtin tool registry: file access,
// search, and command execution rooted at a working directory.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rudi77/taskforce/internal/toolexec"
)

// NewRegistry builds the builtin tool set rooted at workDir. Read-only
// tools are cacheable and parallel-safe; anything that mutates state
// or runs commands is neither.
func NewRegistry(workDir string) toolexec.Registry {
	reg := make(toolexec.Registry)
	reg["read_file"] = newReadFileTool(workDir)
	reg["list_files"] = newListFilesTool(workDir)
	reg["grep"] = newGrepTool(workDir)
	reg["write_file"] = newWriteFileTool(workDir)
	reg["run_cmd"] = newRunCmdTool(workDir)
	return reg
}

// resolvePath joins path against root and rejects escapes. The prefix
// check includes the separator so a sibling directory sharing the
// root's name prefix does not slip through.
func resolvePath(root, path string) (string, error) {
	cleanRoot := filepath.Clean(root)
	full := filepath.Clean(filepath.Join(cleanRoot, path))
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s is outside the working directory", path)
	}
	return full, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func newReadFileTool(root string) toolexec.Tool {
	return toolexec.Tool{
		Name:        "read_file",
		Description: "Read a file's contents. Input: path relative to the working directory.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Relative path of the file to read"}
			},
			"required": ["path"]
		}`,
		Cacheable: true,
		Parallel:  true,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			full, err := resolvePath(root, stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"path":       stringArg(args, "path"),
				"content":    string(data),
				"line_count": bytes.Count(data, []byte("\n")) + 1,
			}, nil
		},
	}
}

func newListFilesTool(root string) toolexec.Tool {
	return toolexec.Tool{
		Name:        "list_files",
		Description: "List files under a directory, one path per line.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Relative directory to list, defaults to the working directory root"}
			}
		}`,
		Cacheable: true,
		Parallel:  true,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			rel := stringArg(args, "path")
			if rel == "" {
				rel = "."
			}
			full, err := resolvePath(root, rel)
			if err != nil {
				return nil, err
			}
			var paths []string
			err = filepath.WalkDir(full, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return nil // skip unreadable entries
				}
				if d.IsDir() {
					if d.Name() == ".git" || d.Name() == "node_modules" {
						return filepath.SkipDir
					}
					return nil
				}
				relPath, relErr := filepath.Rel(root, p)
				if relErr == nil {
					paths = append(paths, relPath)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"files": paths, "count": len(paths)}, nil
		},
	}
}

const grepMaxMatches = 200

func newGrepTool(root string) toolexec.Tool {
	return toolexec.Tool{
		Name:        "grep",
		Description: "Search files for a regular expression. Returns matching lines with file and line number.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Go regular expression to search for"},
				"path": {"type": "string", "description": "Relative directory to search, defaults to the working directory root"}
			},
			"required": ["pattern"]
		}`,
		Cacheable: true,
		Parallel:  true,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			re, err := regexp.Compile(stringArg(args, "pattern"))
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			rel := stringArg(args, "path")
			if rel == "" {
				rel = "."
			}
			full, err := resolvePath(root, rel)
			if err != nil {
				return nil, err
			}

			var matches []string
			err = filepath.WalkDir(full, func(p string, d os.DirEntry, walkErr error) error {
				if walkErr != nil || d.IsDir() {
					if d != nil && d.IsDir() && d.Name() == ".git" {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= grepMaxMatches {
					return filepath.SkipAll
				}
				f, err := os.Open(p)
				if err != nil {
					return nil
				}
				defer f.Close()
				scanner := bufio.NewScanner(f)
				scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
				lineNo := 0
				for scanner.Scan() {
					lineNo++
					if re.MatchString(scanner.Text()) {
						relPath, _ := filepath.Rel(root, p)
						matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, lineNo, scanner.Text()))
						if len(matches) >= grepMaxMatches {
							break
						}
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"matches": matches, "count": len(matches)}, nil
		},
	}
}

func newWriteFileTool(root string) toolexec.Tool {
	return toolexec.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Relative path of the file to write"},
				"content": {"type": "string", "description": "Full file content"}
			},
			"required": ["path", "content"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			full, err := resolvePath(root, stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return nil, err
			}
			content := stringArg(args, "content")
			if err := os.WriteFile(full, []byte(content), 0644); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    stringArg(args, "path"),
				"written": len(content),
				"summary": fmt.Sprintf("Wrote %d bytes to %s", len(content), stringArg(args, "path")),
			}, nil
		},
	}
}

const runCmdTimeout = 120 * time.Second

func newRunCmdTool(root string) toolexec.Tool {
	return toolexec.Tool{
		Name:        "run_cmd",
		Description: "Run a shell command in the working directory and return its combined output.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to run"}
			},
			"required": ["command"]
		}`,
		RequiresApproval: true,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			command := stringArg(args, "command")
			if strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("command is empty")
			}

			ctx, cancel := context.WithTimeout(ctx, runCmdTimeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = root
			out, err := cmd.CombinedOutput()
			result := map[string]any{
				"command": command,
				"output":  string(out),
			}
			if err != nil {
				result["exit_error"] = err.Error()
				return result, fmt.Errorf("command failed: %w", err)
			}
			return result, nil
		},
	}
}
