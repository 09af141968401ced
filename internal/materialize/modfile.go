package materialize

import (
	"fmt"
	"strconv"

	"github.com/bazelbuild/buildtools/build"
)

const moduleFileName = "MODULE.bazel"

// ModuleDecl is the module() declaration of a MODULE.bazel file.
type ModuleDecl struct {
	Name    string
	Version string

	// CompatibilityLevel is meaningful only when declared.
	CompatibilityLevel    int
	HasCompatibilityLevel bool
}

// ParseModuleFile extracts the module() declaration from MODULE.bazel
// content. Returns an error wrapping ErrModuleFileInvalid when the file
// does not parse or declares no module().
func ParseModuleFile(content []byte) (ModuleDecl, error) {
	f, err := build.ParseModule(moduleFileName, content)
	if err != nil {
		return ModuleDecl{}, fmt.Errorf("%w: %v", ErrModuleFileInvalid, err)
	}
	call := moduleCall(f)
	if call == nil {
		return ModuleDecl{}, fmt.Errorf("%w: no module() declaration", ErrModuleFileInvalid)
	}

	decl := ModuleDecl{
		Name:    stringAttr(call, "name"),
		Version: stringAttr(call, "version"),
	}
	if level, ok := intAttr(call, "compatibility_level"); ok {
		decl.CompatibilityLevel = level
		decl.HasCompatibilityLevel = true
	}
	return decl, nil
}

// StampModuleFile rewrites the module() declaration so the declared
// version matches the release version and compatibility_level matches
// the release's major component, inserting attributes that are absent.
// Returns the resulting content and whether anything changed; unchanged
// content is returned verbatim.
func StampModuleFile(content []byte, version string, compatibilityLevel int) ([]byte, bool, error) {
	f, err := build.ParseModule(moduleFileName, content)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrModuleFileInvalid, err)
	}
	call := moduleCall(f)
	if call == nil {
		return nil, false, fmt.Errorf("%w: no module() declaration", ErrModuleFileInvalid)
	}

	changed := false
	if stringAttr(call, "version") != version {
		setAttr(call, "version", &build.StringExpr{Value: version})
		changed = true
	}
	level, declared := intAttr(call, "compatibility_level")
	if !declared || level != compatibilityLevel {
		setAttr(call, "compatibility_level", &build.LiteralExpr{Token: strconv.Itoa(compatibilityLevel)})
		changed = true
	}
	if !changed {
		return content, false, nil
	}
	return build.Format(f), true, nil
}

// moduleCall finds the top-level module() call.
func moduleCall(f *build.File) *build.CallExpr {
	for _, stmt := range f.Stmt {
		call, ok := stmt.(*build.CallExpr)
		if !ok {
			continue
		}
		if ident, ok := call.X.(*build.Ident); ok && ident.Name == "module" {
			return call
		}
	}
	return nil
}

func stringAttr(call *build.CallExpr, name string) string {
	for _, arg := range call.List {
		assign, ok := arg.(*build.AssignExpr)
		if !ok {
			continue
		}
		if lhs, ok := assign.LHS.(*build.Ident); !ok || lhs.Name != name {
			continue
		}
		if str, ok := assign.RHS.(*build.StringExpr); ok {
			return str.Value
		}
	}
	return ""
}

func intAttr(call *build.CallExpr, name string) (int, bool) {
	for _, arg := range call.List {
		assign, ok := arg.(*build.AssignExpr)
		if !ok {
			continue
		}
		if lhs, ok := assign.LHS.(*build.Ident); !ok || lhs.Name != name {
			continue
		}
		if lit, ok := assign.RHS.(*build.LiteralExpr); ok {
			if val, err := strconv.Atoi(lit.Token); err == nil {
				return val, true
			}
		}
	}
	return 0, false
}

// setAttr replaces the named keyword argument or appends it when
// absent.
func setAttr(call *build.CallExpr, name string, value build.Expr) {
	for _, arg := range call.List {
		assign, ok := arg.(*build.AssignExpr)
		if !ok {
			continue
		}
		if lhs, ok := assign.LHS.(*build.Ident); ok && lhs.Name == name {
			assign.RHS = value
			return
		}
	}
	call.List = append(call.List, &build.AssignExpr{
		LHS: &build.Ident{Name: name},
		Op:  "=",
		RHS: value,
	})
}
