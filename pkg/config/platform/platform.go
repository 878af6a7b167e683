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

// Package platform loads the firmware side description of cpufreq domains:
// operating points, power coefficients and static power tables.
package platform

import (
	"bytes"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	cooling "github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
)

type OperatingPoint struct {
	FrequencyHz uint64 `yaml:"frequency-hz"`
	MicroVolt   uint64 `yaml:"microvolt"`
}

// StaticPower is a leakage table; Table[v][t] is the static power in mW at
// VoltagesMV[v] and TemperaturesC[t].
type StaticPower struct {
	VoltagesMV    []int   `yaml:"voltages-mv"`
	TemperaturesC []int   `yaml:"temperatures-c"`
	Table         [][]int `yaml:"table"`
}

type Policy struct {
	CPU int `yaml:"cpu"`
	// RelatedCPUs is only used when policies are not discovered from sysfs
	RelatedCPUs             []int            `yaml:"related-cpus,omitempty"`
	ThermalZone             *int             `yaml:"thermal-zone,omitempty"`
	DynamicPowerCoefficient uint32           `yaml:"dynamic-power-coefficient"`
	OperatingPoints         []OperatingPoint `yaml:"operating-points"`
	StaticPower             *StaticPower     `yaml:"static-power,omitempty"`
}

// Platform implements cooling.OperatingPointProvider and cooling.StaticPowerSource.
type Platform struct {
	ColdTemperature int `yaml:"cold-temperature-millicelsius"`
	// ZonePowerCoefficients are indexed by thermal zone id and take precedence
	// over the policy coefficient of domains bound to that zone.
	ZonePowerCoefficients []uint32 `yaml:"zone-power-coefficients,omitempty"`
	Policies              []Policy `yaml:"policies"`

	byCPU map[int]*Policy
}

var (
	_ cooling.OperatingPointProvider = &Platform{}
	_ cooling.StaticPowerSource      = &Platform{}
)

func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read platform file %s", path)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid platform file %s", path)
	}
	return p, nil
}

func Parse(data []byte) (*Platform, error) {
	p := &Platform{}
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(p); err != nil {
			return nil, errors.Wrap(err, "failed to decode platform")
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Platform) validate() error {
	p.byCPU = make(map[int]*Policy, len(p.Policies))
	for i := range p.Policies {
		policy := &p.Policies[i]
		if _, ok := p.byCPU[policy.CPU]; ok {
			return errors.Errorf("duplicate policy for cpu %d", policy.CPU)
		}
		p.byCPU[policy.CPU] = policy

		for j, opp := range policy.OperatingPoints {
			if opp.FrequencyHz == 0 {
				return errors.Errorf("policy %d: operating point %d has no frequency", policy.CPU, j)
			}
			if j > 0 && opp.FrequencyHz <= policy.OperatingPoints[j-1].FrequencyHz {
				return errors.Errorf("policy %d: operating points must ascend by frequency", policy.CPU)
			}
		}

		if sp := policy.StaticPower; sp != nil {
			if len(sp.VoltagesMV) == 0 || len(sp.TemperaturesC) == 0 {
				return errors.Errorf("policy %d: static power table without axes", policy.CPU)
			}
			if len(sp.Table) != len(sp.VoltagesMV) {
				return errors.Errorf("policy %d: static power table has %d rows for %d voltages",
					policy.CPU, len(sp.Table), len(sp.VoltagesMV))
			}
			for v, row := range sp.Table {
				if len(row) != len(sp.TemperaturesC) {
					return errors.Errorf("policy %d: static power row %d has %d cells for %d temperatures",
						policy.CPU, v, len(row), len(sp.TemperaturesC))
				}
			}
		}
	}

	sort.Slice(p.Policies, func(i, j int) bool {
		return p.Policies[i].CPU < p.Policies[j].CPU
	})
	// re-index after sorting moved the policies
	for i := range p.Policies {
		p.byCPU[p.Policies[i].CPU] = &p.Policies[i]
	}
	return nil
}

// Policy returns the description of the policy managed through cpu.
func (p *Platform) Policy(cpu int) (*Policy, bool) {
	policy, ok := p.byCPU[cpu]
	return policy, ok
}

func (p *Platform) ListOperatingPoints(domain int) ([]cooling.OperatingPoint, error) {
	policy, ok := p.byCPU[domain]
	if !ok || len(policy.OperatingPoints) == 0 {
		return nil, errors.Errorf("no operating points for cpu %d", domain)
	}

	points := make([]cooling.OperatingPoint, 0, len(policy.OperatingPoints))
	for _, opp := range policy.OperatingPoints {
		points = append(points, cooling.OperatingPoint{FrequencyHz: opp.FrequencyHz, MicroVolt: opp.MicroVolt})
	}
	return points, nil
}

func (p *Platform) FindOperatingPointAtOrAbove(domain int, hz uint64) (cooling.OperatingPoint, error) {
	policy, ok := p.byCPU[domain]
	if !ok {
		return cooling.OperatingPoint{}, errors.Wrapf(cooling.ErrOperatingPointNotFound, "unknown cpu %d", domain)
	}

	i := sort.Search(len(policy.OperatingPoints), func(i int) bool {
		return policy.OperatingPoints[i].FrequencyHz >= hz
	})
	if i == len(policy.OperatingPoints) {
		return cooling.OperatingPoint{}, errors.Wrapf(cooling.ErrOperatingPointNotFound, "cpu %d, %d Hz", domain, hz)
	}

	opp := policy.OperatingPoints[i]
	return cooling.OperatingPoint{FrequencyHz: opp.FrequencyHz, MicroVolt: opp.MicroVolt}, nil
}

// BuildStaticPowerTable flattens the static power table of a domain into
// (voltages+1) x (temperatures+1) cells with the axes as header row and column.
func (p *Platform) BuildStaticPowerTable(domain int) ([]int, int, int, error) {
	policy, ok := p.byCPU[domain]
	if !ok || policy.StaticPower == nil {
		return nil, 0, 0, errors.Errorf("no static power table for cpu %d", domain)
	}

	sp := policy.StaticPower
	voltSize, tempSize := len(sp.VoltagesMV), len(sp.TemperaturesC)
	cells := make([]int, (voltSize+1)*(tempSize+1))
	for t, temperature := range sp.TemperaturesC {
		cells[t+1] = temperature
	}
	for v, voltage := range sp.VoltagesMV {
		row := (v + 1) * (tempSize + 1)
		cells[row] = voltage
		copy(cells[row+1:row+1+tempSize], sp.Table[v])
	}
	return cells, voltSize, tempSize, nil
}

// Capacitance resolves the dynamic power coefficient of a domain, preferring
// the coefficient of the thermal zone it is bound to.
func (p *Platform) Capacitance(domain int) uint32 {
	policy, ok := p.byCPU[domain]
	if !ok {
		return 0
	}
	if zone := policy.ThermalZone; zone != nil && *zone >= 0 && *zone < len(p.ZonePowerCoefficients) {
		return p.ZonePowerCoefficients[*zone]
	}
	return policy.DynamicPowerCoefficient
}

// RegisterOptions returns the power model options of a domain; domains
// unknown to the platform register without power extensions.
func (p *Platform) RegisterOptions(domain int) cooling.RegisterOptions {
	opts := cooling.RegisterOptions{Capacitance: p.Capacitance(domain)}
	if policy, ok := p.byCPU[domain]; ok && policy.StaticPower != nil && opts.Capacitance != 0 {
		opts.StaticPower = p
	}
	return opts
}

// FrequencyTable derives a kHz frequency table from the operating points of a domain.
func (p *Platform) FrequencyTable(domain int) []uint32 {
	policy, ok := p.byCPU[domain]
	if !ok {
		return nil
	}

	freqs := make([]uint32, 0, len(policy.OperatingPoints))
	for _, opp := range policy.OperatingPoints {
		freqs = append(freqs, uint32(opp.FrequencyHz/1000))
	}
	return freqs
}
