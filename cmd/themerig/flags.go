package main

// Flag structs decouple cobra from the command logic for testing.

type ServeFlags struct {
	Transport string
	Addr      string
}

type TargetFlags struct {
	Target string
}

type StopFlags struct {
	Name string
}

type HistoryFlags struct {
	Target         string
	Service        string
	Limit          int
	Events         bool
	PurgeOlderThan string
}
