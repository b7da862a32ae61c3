// Package dedupe remembers recently settled request ids so a late or repeated
// operator submit can be told whether the request was already answered or
// timed out, and so the broker never reissues an id it has just retired.
package dedupe
