// Package task manages background job queuing, processing, and lifecycle.
//
// An App holds the registry of named task handlers together with a Broker
// that transports messages and a ResultBackend that records task state.
// Producers call App.Delay; a Worker consumes the broker, runs handlers with
// retry and backoff, and acknowledges messages only once they are finished
// so that work interrupted by a crash is redelivered after the visibility
// timeout. In eager mode tasks run synchronously inside the caller instead.
package task
