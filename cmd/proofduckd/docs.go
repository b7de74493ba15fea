package main

// General API documentation for swaggo. Regenerate internal/apidocs with
// `swag init -g cmd/proofduckd/docs.go -o internal/apidocs --outputTypes go`.
//
// @title           proofduck API
// @version         1.0
// @description     Local writing assistant: proofreading, correction, translation, summarization and expansion.
//
// @contact.name   proofduck maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
