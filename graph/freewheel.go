package graph

// SetFreewheel toggles freewheel mode for driver's data loop (spec §4.8
// "Freewheeling. On set_freewheel(true) the driver drops RT priority and
// releases its timer; followers continue to be triggered by the driver's
// process() return status"). Drivers with no assigned data loop (main-loop
// drivers) have nothing to transition and this is a no-op.
func SetFreewheel(driver *Node, on bool) error {
	dl := driver.DataLoop()
	if dl == nil {
		return nil
	}
	return dl.SetFreewheel(on)
}

// freewheelRearm decides whether a driver with no active timer should
// re-arm immediately given its own process() result (spec §4.8 "the driver
// re-arms on K's process returning HAVE_DATA", spec §8 S6). Kept as a pure
// function so the scheduling policy is independently testable from the
// Loop/DataLoop plumbing.
func freewheelRearm(result ProcessOutcome) bool {
	return result == OutcomeHaveData
}

// ProcessOutcome narrows spa.ProcessResult to the single bit the freewheel
// re-arm decision inspects.
type ProcessOutcome int

const (
	OutcomeOther ProcessOutcome = iota
	OutcomeHaveData
)
