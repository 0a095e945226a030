// Package docs provides generated OpenAPI documentation.
//
// docsplit API
//
//	@title			docsplit API
//	@version		1.0
//	@description	Loan document segmentation API: upload a loan PDF, follow its split, classify and finalize pipeline, review and correct segments, and export the filed results.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/docsplit
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/docsplit/serve.go -o ./swagger --outputTypes go --parseDependency --parseInternal
