// Package stage implements the handlers that advance a domain task
// through the processing pipeline: analyze, plan, decompose. Each
// handler fetches the task snapshot, verifies the preceding stage's
// result exists, performs its unit of work through the generator
// collaborator, and persists the result. Handler errors propagate to
// the dispatcher's failure path.
package stage
