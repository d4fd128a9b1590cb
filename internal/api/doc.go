// Package api implements the HTTP surface of the pipeline server:
// the task processing trigger, queue introspection, health and metrics
// endpoints, and the websocket upgrade route. Handlers translate HTTP
// concerns into service calls and map service errors onto status codes.
package api
