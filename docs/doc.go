// Package docs provides generated OpenAPI documentation.
//
// Underwrite API
//
//	@title			Underwrite API
//	@version		1.0
//	@description	Insurance submission pipeline: ingest broker emails, run them through the underwriting stages, review and correct stage outputs.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/underwrite
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/underwrite/serve.go -o . --outputTypes go --parseDependency --parseInternal
