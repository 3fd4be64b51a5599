/*
Copyright (c) SVWS Tools contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package anonymize

import (
	"crypto/rand"
	"fmt"

	"github.com/svws-tools/svws-anonym/src/anonengine"
)

// FakePhone returns a plausible German phone number: a 0-prefixed area code
// and a subscriber number.
func FakePhone(rs anonengine.RandomSource) string {
	area := anonengine.IntBetween(rs, 201, 9999)
	subscriber := anonengine.IntBetween(rs, 100000, 9999999)
	return fmt.Sprintf("0%d %d", area, subscriber)
}

// FakePLZ returns a random five-digit postcode from the German range.
func FakePLZ(rs anonengine.RandomSource) string {
	return fmt.Sprintf("%05d", anonengine.IntBetween(rs, 1067, 99998))
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewInitialPassword returns a fresh random password for credential resets.
// Reset passwords come from crypto/rand, not from the engine's injectable
// source: they must stay unpredictable even under a seeded run.
func NewInitialPassword(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(buf), nil
}
