package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// defaultAllowed is the import allow-list. Everything that reaches the
// filesystem, the network or the process is left out.
var defaultAllowed = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"path/filepath",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// autoImports maps a package selector seen in a bare body to its import path.
var autoImports = map[string]string{
	"bytes":    "bytes",
	"base64":   "encoding/base64",
	"json":     "encoding/json",
	"errors":   "errors",
	"fmt":      "fmt",
	"math":     "math",
	"regexp":   "regexp",
	"sort":     "sort",
	"strconv":  "strconv",
	"strings":  "strings",
	"time":     "time",
	"unicode":  "unicode",
	"utf8":     "unicode/utf8",
	"capkit":   "autotool/capkit",
	"filepath": "path/filepath",
}

var (
	packageClause = regexp.MustCompile(`(?m)^\s*package\s+\w+`)
	importClause  = regexp.MustCompile(`(?m)^\s*import\s`)
	runDecl       = regexp.MustCompile(`(?m)^\s*func\s+Run\s*\(`)
	selectorUse   = regexp.MustCompile(`\b([a-z][a-z0-9]*)\.[A-Z]`)
)

// prepared is source ready for the interpreter plus the number of lines the
// wrapper added before the caller's first line.
type prepared struct {
	code   string
	offset int
}

// prepareScript turns a script into a package main exposing Run. Scripts may
// be a full file, a file without the package clause, or a bare function body.
func prepareScript(src string) prepared {
	if packageClause.MatchString(src) {
		return prepared{code: src}
	}
	if runDecl.MatchString(src) {
		return prepareFile(src)
	}

	header := "package main\n\n" + importBlock(src, true) +
		"func Run(env *capkit.Env) (any, error) {\n"
	body := src
	if !endsWithReturn(src) {
		body += "\nreturn nil, nil"
	}
	return prepared{
		code:   header + body + "\n}\n",
		offset: strings.Count(header, "\n"),
	}
}

// prepareFile adds a package clause and missing imports to a file body.
func prepareFile(src string) prepared {
	if packageClause.MatchString(src) {
		return prepared{code: src}
	}
	header := "package main\n\n"
	if !importClause.MatchString(src) {
		header += importBlock(src, false)
	}
	return prepared{code: header + src, offset: strings.Count(header, "\n")}
}

func importBlock(src string, needCapkit bool) string {
	seen := map[string]bool{}
	if needCapkit {
		seen["autotool/capkit"] = true
	}
	for _, m := range selectorUse.FindAllStringSubmatch(src, -1) {
		if path, ok := autoImports[m[1]]; ok {
			seen[path] = true
		}
	}
	if len(seen) == 0 {
		return ""
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("import (\n")
	for _, p := range paths {
		b.WriteString("\t" + strconv.Quote(p) + "\n")
	}
	b.WriteString(")\n\n")
	return b.String()
}

func endsWithReturn(src string) bool {
	lines := strings.Split(strings.TrimSpace(src), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	return strings.HasPrefix(last, "return ")
}

// imports lists the import paths of a prepared file.
func imports(code string) ([]string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", code, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.Imports))
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// harnessSteps returns BeforeAll (if present) followed by every TestXxx
// function in source order.
func harnessSteps(code string) ([]string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", code, 0)
	if err != nil {
		return nil, fmt.Errorf("parse harness: %w", err)
	}
	var before bool
	var tests []string
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Type.Params.NumFields() != 1 {
			continue
		}
		name := fn.Name.Name
		switch {
		case name == "BeforeAll":
			before = true
		case strings.HasPrefix(name, "Test") && ast.IsExported(name):
			tests = append(tests, name)
		}
	}
	if before {
		return append([]string{"BeforeAll"}, tests...), nil
	}
	return tests, nil
}

// declares reports whether code declares a top-level function name.
func declares(code, name string) bool {
	f, err := parser.ParseFile(token.NewFileSet(), "", code, 0)
	if err != nil {
		return false
	}
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && fn.Name.Name == name {
			return true
		}
	}
	return false
}
