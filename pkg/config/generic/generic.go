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

package generic

import (
	"golang.org/x/time/rate"
)

// GenericConfiguration stores the configurations shared by every component.
type GenericConfiguration struct {
	DryRun bool

	GenericEndpoint             string
	GenericEndpointHandleChains []string
	GenericEndpointRateLimit    rate.Limit
	GenericEndpointRateBurst    int
}

func NewGenericConfiguration() *GenericConfiguration {
	return &GenericConfiguration{}
}
