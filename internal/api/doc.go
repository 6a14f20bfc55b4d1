// Package api holds the HTTP handlers for the service's root, health and
// Redis diagnostic endpoints, together with the error mapping and request
// helpers shared by every route. Response writing and trace IDs live in
// api/shared; middleware lives in api/middleware.
package api
