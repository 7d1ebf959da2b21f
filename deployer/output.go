// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"fmt"
	"io"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/MuhtasimTanmoy/payy/rollup/record"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
)

// Journal receives a copy of everything the Reporter prints.
type Journal interface {
	Record(kind record.Kind, key, value string) error
}

// Reporter writes the machine-readable run output. Addresses are printed as
// KEY=VALUE lines. Deferred actions are printed as instruction blocks whose
// lines never contain '=', so a KEY=VALUE reader skips them.
type Reporter struct {
	out     io.Writer
	header  *color.Color
	journal Journal
	log     rollup.Logger
}

// NewReporter creates a Reporter writing to out. journal may be nil.
func NewReporter(out io.Writer, journal Journal, noColor bool, log rollup.Logger) *Reporter {
	header := color.New(color.FgYellow, color.Bold)
	if noColor {
		header.DisableColor()
	} else {
		header.EnableColor()
	}
	return &Reporter{
		out:     out,
		header:  header,
		journal: journal,
		log:     log,
	}
}

func (r *Reporter) record(kind record.Kind, key, value string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(kind, key, value); err != nil {
		r.log.Warnf("Error journaling %s %s: %v", kind, key, err)
	}
}

// Address prints KEY=ADDRESS.
func (r *Reporter) Address(key string, addr common.Address) {
	fmt.Fprintf(r.out, "%s=%s\n", key, addr)
	r.record(record.KindAddress, key, addr.Hex())
}

// Instruction prints a block of manual instructions for an action the
// deployer is not authorized to perform.
func (r *Reporter) Instruction(desc string, headline []string, fields []Field) {
	for _, h := range headline {
		r.header.Fprintln(r.out, h)
	}
	var sb strings.Builder
	for _, f := range fields {
		line := fmt.Sprintf("\t%s: %s", f.Name, f.Value)
		fmt.Fprintln(r.out, line)
		sb.WriteString(strings.TrimSpace(line))
		sb.WriteByte(' ')
	}
	r.record(record.KindInstruction, desc, strings.TrimSpace(sb.String()))
}

// Note journals a line without printing it.
func (r *Reporter) Note(key, value string) {
	r.record(record.KindNote, key, value)
}

// Field is one labeled line of an instruction block.
type Field struct {
	Name  string
	Value string
}

// AddressBook holds the addresses produced or resolved by a run, in order.
type AddressBook struct {
	rep   *Reporter
	keys  []string
	addrs map[string]common.Address
}

// NewAddressBook creates an empty AddressBook printing through rep.
func NewAddressBook(rep *Reporter) *AddressBook {
	return &AddressBook{
		rep:   rep,
		addrs: make(map[string]common.Address),
	}
}

// Set stores and prints an address.
func (b *AddressBook) Set(key string, addr common.Address) {
	b.Preset(key, addr)
	b.rep.Address(key, addr)
}

// Preset stores an address without printing it.
func (b *AddressBook) Preset(key string, addr common.Address) {
	if _, found := b.addrs[key]; !found {
		b.keys = append(b.keys, key)
	}
	b.addrs[key] = addr
}

// Get returns the address stored under key.
func (b *AddressBook) Get(key string) (common.Address, bool) {
	addr, found := b.addrs[key]
	return addr, found
}

// Keys lists the stored keys in insertion order.
func (b *AddressBook) Keys() []string {
	return append([]string(nil), b.keys...)
}
