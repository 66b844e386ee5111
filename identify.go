// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

package visa

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// UnknownDeviceType is reported for instruments with no known driver.
const UnknownDeviceType = "unknown"

// deviceTypes maps "*IDN?" prefixes (manufacturer,model) to the name of
// the attenuator assembly driven through that instrument.
var deviceTypes = map[string]string{
	"Agilent Technologies,L4490A":  "Keysight_J7204B",
	"Keysight Technologies,L4490A": "Keysight_J7204B",
}

// Identity is the parsed response to "*IDN?".
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// DeviceType returns the known device type for this identity, or
// UnknownDeviceType.
func (id Identity) DeviceType() string {
	idn := id.String()
	for prefix, name := range deviceTypes {
		if strings.HasPrefix(idn, prefix) {
			return name
		}
	}
	return UnknownDeviceType
}

// ParseIdentity parses an IEEE 488.2 identification string.
func ParseIdentity(resp string) (Identity, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return Identity{}, errors.New("visa: empty identification")
	}
	fields := strings.SplitN(resp, ",", 4)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	for len(fields) < 4 {
		fields = append(fields, "")
	}
	return Identity{
		Manufacturer: fields[0],
		Model:        fields[1],
		Serial:       fields[2],
		Firmware:     fields[3],
	}, nil
}

// Querier is anything that can send a query and read back the response.
type Querier interface {
	Query(ctx context.Context, query string) (string, error)
}

// Identify asks the instrument who it is.
func Identify(ctx context.Context, q Querier) (Identity, error) {
	resp, err := q.Query(ctx, "*IDN?")
	if err != nil {
		return Identity{}, errors.Wrap(err, "visa: identify")
	}
	return ParseIdentity(resp)
}

// vim: foldmethod=marker
