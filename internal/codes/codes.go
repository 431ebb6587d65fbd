// Package codes defines the process exit codes of the data compiler CLI
// contract shared between the build pipeline and external compiler
// executables.
package codes

// Exit codes a compiler executable reports. Anything non-zero is a failure;
// the specific code narrows the diagnosis.
const (
	Success          = 0
	GeneralFailure   = 1
	InvalidArgs      = 2
	MalformedPathID  = 3
	ResourceNotFound = 4
	InvalidTransform = 5
	CompileFailed    = 6
	StoreFailed      = 7
	OutputFailed     = 8
)

// ErrorCodes maps compiler exit codes to their descriptions
var ErrorCodes = map[int]string{
	Success:          "Success",
	GeneralFailure:   "General failure",
	InvalidArgs:      "Invalid command line arguments",
	MalformedPathID:  "Malformed resource path id",
	ResourceNotFound: "Source resource not found",
	InvalidTransform: "Transform not supported by this compiler",
	CompileFailed:    "Compilation failed",
	StoreFailed:      "Cannot write to content store",
	OutputFailed:     "Cannot write output manifest to stdout",
}

// IsSuccess returns true if the exit code indicates successful compilation
func IsSuccess(code int) bool {
	return code == Success
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}
