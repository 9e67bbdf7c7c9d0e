// Package llmmock holds go:generate directives for go.uber.org/mock,
// grounded on the pack's internal/mocks/generate.go convention of
// collecting mockgen directives in one file per mocked interface group.
package llmmock

//go:generate mockgen -destination=client_mock.go -package=llmmock github.com/loomctl/loom-agent/internal/llm Client
