// Package services implements the HTTP client for the upscaler backend.
//
// # Backend Interface
//
// [Backend] names the service's operations; [UpscaleService] implements it over HTTP:
//   - GET  /health         : [UpscaleService.Health]
//   - POST /load-model     : [UpscaleService.LoadModel]
//   - GET  /               : [UpscaleService.Info]
//   - POST /upscale        : [UpscaleService.Upscale] (blocking JSON result)
//   - POST /upscale/stream : [UpscaleService.Stream] (server-sent events)
//
// Upscale requests are multipart forms carrying the image file plus scale, denoise, creativity and use_ml fields.
//
// # Event Streams
//
// [EventStream] yields typed [Event] values decoded from `data: {...}` lines by [EventDecoder].
// Payload lines may span many network reads (result images are large base64 strings); the decoder
// holds partial lines until their newline arrives. A payload that is not valid JSON is reported as
// [ErrMalformedEvent] and the stream stays readable.
//
// # Raw Access
//
// [APIService] issues arbitrary GET/POST requests and returns [APIResponse] for the `api` debug commands.
//
// # Error Handling
//
// Non-2xx responses wrap [shared.ErrAPIRequest] and include FastAPI's "detail" when present.
// An unsuccessful synchronous upscale wraps [shared.ErrUpscaleFailed].
package services
