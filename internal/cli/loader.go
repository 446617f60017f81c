package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/cordage-io/cordage/internal/compiler"
	"github.com/cordage-io/cordage/internal/model"
)

// Stack is one loaded stack directory: the compiled model catalog plus the
// requirement profile. The raw CUE value is kept for diagnostics.
type Stack struct {
	Catalog      *model.Catalog
	Requirements []model.Requirement
	CUEValue     cue.Value
	FileCount    int // Number of CUE files found
}

// LoadError represents an error that occurred during stack loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands. Semantic
// validation has its own E2xx codes in the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // Catalog or profile failed to compile
	ErrCodeNoProfile   = "E008" // Command requires a profile
	ErrCodeResolve     = "E009" // Resolve cycle failed
)

// LoadStack loads every CUE file in a directory as one instance and
// compiles the catalog and profile out of it. The catalog is mandatory;
// the profile is optional so catalog-only stacks still validate, and
// commands that resolve check Requirements themselves.
func LoadStack(dir string) (*Stack, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("stack directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing stack directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	stack := &Stack{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	catVal := value.LookupPath(cue.ParsePath("catalog"))
	if !catVal.Exists() {
		return nil, &LoadError{Code: ErrCodeCompile, Message: "no catalog struct found in stack"}
	}
	cat, err := compiler.CompileCatalog(catVal)
	if err != nil {
		return nil, convertCompileError(err, "catalog")
	}
	stack.Catalog = cat

	profVal := value.LookupPath(cue.ParsePath("profile"))
	if profVal.Exists() {
		reqs, err := compiler.CompileProfile(profVal)
		if err != nil {
			return nil, convertCompileError(err, "profile")
		}
		stack.Requirements = reqs
	}

	return stack, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
