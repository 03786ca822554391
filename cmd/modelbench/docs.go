package main

// General API documentation for swaggo. Run `swag init -g cmd/modelbench/docs.go -o docs` to regenerate.
//
// @title           modelbench API
// @version         1.0
// @description     HTTP API for on-device model downloads, inference sessions and test runs.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
