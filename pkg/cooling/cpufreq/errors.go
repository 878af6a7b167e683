/*
Copyright 2022 The Katalyst Authors.

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

package cpufreq

import (
	"github.com/pkg/errors"
)

// Error classes reported by cooling devices; wrapped errors keep their class,
// so callers check them with errors.Is or the helpers below.
var (
	// ErrConfiguration reports unusable input, registration must not be retried as is.
	ErrConfiguration = errors.New("invalid cooling configuration")
	// ErrRange reports a level or frequency outside of the device's domain.
	ErrRange = errors.New("out of range")
	// ErrLookup reports a missing operating point or table bucket.
	ErrLookup = errors.New("lookup failed")
	// ErrResource reports allocation failures, the caller may retry.
	ErrResource = errors.New("resource exhausted")
	// ErrNotAvailable reports that no cpu of the domain is online.
	ErrNotAvailable = errors.New("not available")

	ErrOperatingPointNotFound = errors.Wrap(ErrLookup, "operating point not found")
)

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsRangeError(err error) bool {
	return errors.Is(err, ErrRange)
}

func IsLookupError(err error) bool {
	return errors.Is(err, ErrLookup)
}

func IsResourceError(err error) bool {
	return errors.Is(err, ErrResource)
}

func IsNotAvailableError(err error) bool {
	return errors.Is(err, ErrNotAvailable)
}
