/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package signing

// ChainDigest computes the next link in a hash chain: an HMAC-SHA256 over
// (previous digest, entry bytes). Passing an empty previous digest starts
// a new chain. A ledger reader that recomputes this sequence detects a
// truncated or edited file at the first entry whose digest no longer
// matches.
func (s *Signer) ChainDigest(previousDigest string, entryBytes []byte) (string, error) {
	return s.Sign(previousDigest, entryBytes)
}
