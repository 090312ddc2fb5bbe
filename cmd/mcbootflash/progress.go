package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/synthread/go-mcboot/flash"
)

var phaseNames = map[flash.Phase]string{
	flash.PhaseErasing: "Erasing",
	flash.PhaseWriting: "Writing",
}

// progressBars draws one bar per flashing phase.
type progressBars struct {
	out   io.Writer
	phase flash.Phase
	bar   *progressbar.ProgressBar
}

func (p *progressBars) update(pr flash.Progress) {
	if p.bar == nil || p.phase != pr.Phase {
		p.finish()
		p.phase = pr.Phase
		p.bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(phaseNames[pr.Phase]),
			progressbar.OptionShowBytes(pr.Phase == flash.PhaseWriting),
			progressbar.OptionSetPredictTime(false),
		)
	}
	_ = p.bar.Set(pr.Done)
}

func (p *progressBars) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
	p.bar = nil
}
