// Package api exposes the corvus pipeline over a JSON HTTP API.
//
// Routes live under /api/v1 behind a middleware stack of recovery, request
// IDs, logging, CORS, and per-IP rate limiting. Health probes (/health,
// /ready) bypass the stack so orchestrators never get rate limited.
//
// Endpoints:
//
//	POST   /api/v1/documents                 ingest an uploaded document
//	POST   /api/v1/documents/url             ingest a web page by URL
//	GET    /api/v1/documents                 list documents for an owner
//	GET    /api/v1/documents/{id}            fetch one document
//	DELETE /api/v1/documents/{id}            delete a document and its chunks
//	POST   /api/v1/query                     answer a question
//	POST   /api/v1/query/stream              answer a question over SSE
//	GET    /api/v1/conversations             list conversations
//	GET    /api/v1/conversations/{id}        fetch one conversation
//	GET    /api/v1/conversations/{id}/messages
//	DELETE /api/v1/conversations/{id}
package api
