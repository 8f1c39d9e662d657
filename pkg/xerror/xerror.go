// Package xerror defines the closed error-kind enum shared by every core
// component. Every fallible operation in cvautomation returns one of these
// codes (wrapped with additional context via fmt.Errorf's %w), the way the
// teacher package returns sentinel errors.New values for each failure mode.
package xerror

// Code is a single error kind from the core's closed error enum.
type Code uint8

// Error kinds. Success is the zero value and is never returned as an error
// (callers check err == nil, not code == Success).
const (
	Success Code = iota
	NullParameter
	InvalidArgument
	InvalidProperty
	ReadOnlyProperty
	NotIndexedProperty
	IndexOutOfBounds
	InvalidFormat
	IncompatibleTypes
	UnsupportedPixelFormat
	ImageParametersMismatch
	OutOfMemory
	IOFailure
	FailedImageDecoding
	FailedImageEncoding
	NotImplemented
	PluginNotFound
	FailedPluginInstantiation
	FailedLoadingScript
	FailedRunningScript
	InvalidConfiguration
	DeviceNotReady
	CannotSetPropertyWhileRunning
	Failed
)

var names = map[Code]string{
	Success:                       "success",
	NullParameter:                 "null parameter",
	InvalidArgument:               "invalid argument",
	InvalidProperty:               "invalid property",
	ReadOnlyProperty:              "read-only property",
	NotIndexedProperty:            "not an indexed property",
	IndexOutOfBounds:              "index out of bounds",
	InvalidFormat:                 "invalid format",
	IncompatibleTypes:             "incompatible types",
	UnsupportedPixelFormat:        "unsupported pixel format",
	ImageParametersMismatch:       "image parameters mismatch",
	OutOfMemory:                   "out of memory",
	IOFailure:                     "I/O failure",
	FailedImageDecoding:           "failed image decoding",
	FailedImageEncoding:           "failed image encoding",
	NotImplemented:                "not implemented",
	PluginNotFound:                "plug-in not found",
	FailedPluginInstantiation:     "failed plug-in instantiation",
	FailedLoadingScript:           "failed loading script",
	FailedRunningScript:           "failed running script",
	InvalidConfiguration:          "invalid configuration",
	DeviceNotReady:                "device not ready",
	CannotSetPropertyWhileRunning: "cannot set property while running",
	Failed:                        "failed",
}

// Error implements the error interface, returning the generic code
// description. Callers that have a more specific message should wrap the
// code with fmt.Errorf("...: %w", code) rather than relying on this text.
func (c Code) Error() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error"
}

// Is lets errors.Is match a wrapped Code against a bare Code value.
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	return ok && t == c
}
