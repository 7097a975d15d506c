package server

//go:generate swag init -g internal/server/swagger.go -o docs

// @title ZAP Scanner API
// @version 1.0
// @description Asynchronous OWASP ZAP scan orchestration: start scans, follow their logs and browse rendered reports.
// @BasePath /
