// Package embeddings turns note text into vectors.
//
// Three backends are supported: OpenAI-compatible APIs (including Azure
// OpenAI) through langchaingo, a Text Embeddings Inference server over HTTP,
// and local ONNX models through fastembed (cgo builds only). Every backend is
// wrapped in a Service, which cleans and truncates input, splits documents
// into batches, and rejects responses whose vector count does not match the
// input.
package embeddings
