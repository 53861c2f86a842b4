// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package readcontext

// OptionalContext is either a Context or nothing.  The zero value is absent.
//
// Evidence without a context never conflicts with anything: it can confirm
// an allele but cannot split it.
type OptionalContext struct {
	ctx     Context
	present bool
}

// Absent returns an empty OptionalContext.
func Absent() OptionalContext { return OptionalContext{} }

// Present wraps c.
func Present(c Context) OptionalContext { return OptionalContext{ctx: c, present: true} }

// Get returns the context, and whether there is one.
func (o OptionalContext) Get() (Context, bool) { return o.ctx, o.present }

// IsPresent returns true if o holds a context.
func (o OptionalContext) IsPresent() bool { return o.present }

// String returns the context's String(), or "." when absent.
func (o OptionalContext) String() string {
	if !o.present {
		return "."
	}
	return o.ctx.String()
}
