// Package validator implements the request-admission checks of
// SPEC_FULL §4.1: resolving a scriptId against the registry and
// checking a caller's argument vector against that script's declared
// constraints before a job is ever created.
package validator

import (
	"fmt"

	"github.com/queuectl/jobrunner/internal/job"
	"github.com/queuectl/jobrunner/internal/registry"
)

// Error codes returned by Validate, matching spec.md §4.1/§6.1.
const (
	CodeScriptNotFound = "SCRIPT_NOT_FOUND"
	CodeInvalidArgs    = "INVALID_ARGS"
)

// Error is a validation failure surfaced verbatim to the caller.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Validate resolves scriptID against reg and checks args against the
// script's constraints, in the order spec.md §4.1 lists them. On
// success it returns the matched script and a nil error; no job
// should be created when Validate returns a non-nil error.
func Validate(reg *registry.Registry, scriptID string, args []string) (job.Script, *Error) {
	script, ok := reg.Lookup(scriptID)
	if !ok {
		return job.Script{}, &Error{Code: CodeScriptNotFound, Message: fmt.Sprintf("script %q is not registered", scriptID)}
	}

	if args == nil {
		return job.Script{}, &Error{Code: CodeInvalidArgs, Message: "args must be a sequence of strings"}
	}

	if len(args) > script.Args.MaxItems {
		return job.Script{}, &Error{
			Code:    CodeInvalidArgs,
			Message: fmt.Sprintf("args has %d items, exceeds maxItems %d", len(args), script.Args.MaxItems),
		}
	}

	pattern := reg.Pattern(scriptID)
	for i, a := range args {
		if script.Args.ItemMaxLength > 0 && len(a) > script.Args.ItemMaxLength {
			return job.Script{}, &Error{
				Code:    CodeInvalidArgs,
				Message: fmt.Sprintf("args[%d] exceeds itemMaxLength %d", i, script.Args.ItemMaxLength),
			}
		}
		if pattern != nil && !pattern.MatchString(a) {
			return job.Script{}, &Error{
				Code:    CodeInvalidArgs,
				Message: fmt.Sprintf("args[%d] does not match itemPattern %q", i, script.Args.ItemPattern),
			}
		}
	}

	return script, nil
}
