// Package cache defines the durable store responsible for translating
// (prefix, artifact path) keys into cached entries. Two implementations share
// one contract: a disk store writing <root>/<prefix>/<path>.binary files with
// safe semantics (temp file + rename) plus an optional content-type sidecar,
// and an S3 store keeping the content-type in object metadata. Entries carry
// no TTL — presence is the only validity signal — so backends depend on this
// package purely to answer hit/miss and to commit fully downloaded artifacts.
package cache
