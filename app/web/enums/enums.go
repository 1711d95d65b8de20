// Package enums provides type-safe enumeration types for the web interface.
//
// The enum types are defined as unexported integer types (e.g., theme int) in this
// file, and the go:generate directives invoke the go-pkgz/enum generator to create
// corresponding exported types with all necessary methods in separate files
// (*_enum.go): String(), Parse functions, database Scan/Value, and text marshaling.
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/web/enums
//
// Note: The unexported type definitions below are only used by the generator.
// All actual code should use the generated exported types.
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type theme -lower
//go:generate go run github.com/go-pkgz/enum@latest -type billing -lower
//go:generate go run github.com/go-pkgz/enum@latest -type eventType -lower

// theme represents UI themes.
// This is an unexported type used only as input for the code generator.
// Use the exported Theme type and its constants in actual code.
type theme int

const (
	themeLight theme = iota
	themeDark
)

// billing represents pricing display modes.
// This is an unexported type used only as input for the code generator.
// Use the exported Billing type and its constants in actual code.
type billing int

const (
	billingMonthly billing = iota
	billingAnnual
)

// eventType represents cache lifecycle event types.
// This is an unexported type used only as input for the code generator.
// Use the exported EventType type and its constants in actual code.
type eventType int

const (
	eventTypeInstalled eventType = iota
	eventTypeActivated
	eventTypeInstallFailed
)
