package analysis

import "sort"

// PatternType identifies a specific formation.
type PatternType string

// Candlestick formations.
const (
	BullishEngulfing     PatternType = "bullish_engulfing"
	BearishEngulfing     PatternType = "bearish_engulfing"
	Doji                 PatternType = "doji"
	Hammer               PatternType = "hammer"
	ShootingStar         PatternType = "shooting_star"
	MorningStar          PatternType = "morning_star"
	EveningStar          PatternType = "evening_star"
	PiercingLine         PatternType = "piercing_line"
	DarkCloudCover       PatternType = "dark_cloud_cover"
	ThreeWhiteSoldiers   PatternType = "three_white_soldiers"
	ThreeBlackCrows      PatternType = "three_black_crows"
	BullishHarami        PatternType = "bullish_harami"
	BearishHarami        PatternType = "bearish_harami"
	BullishAbandonedBaby PatternType = "bullish_abandoned_baby"
	BearishAbandonedBaby PatternType = "bearish_abandoned_baby"
)

// Geometric chart formations.
const (
	HeadAndShoulders        PatternType = "head_and_shoulders"
	InverseHeadAndShoulders PatternType = "inverse_head_and_shoulders"
	AscendingTriangle       PatternType = "ascending_triangle"
	DescendingTriangle      PatternType = "descending_triangle"
	SymmetricalTriangle     PatternType = "symmetrical_triangle"
	RisingWedge             PatternType = "rising_wedge"
	FallingWedge            PatternType = "falling_wedge"
	BullFlag                PatternType = "bull_flag"
	BearFlag                PatternType = "bear_flag"
	Pennant                 PatternType = "pennant"
	CupAndHandle            PatternType = "cup_and_handle"
	Rectangle               PatternType = "rectangle"
	AscendingChannel        PatternType = "ascending_channel"
	DescendingChannel       PatternType = "descending_channel"
	BroadeningFormation     PatternType = "broadening_formation"
	DiamondTop              PatternType = "diamond_top"
	RoundingBottom          PatternType = "rounding_bottom"
	DoubleTop               PatternType = "double_top"
	DoubleBottom            PatternType = "double_bottom"
	TripleTop               PatternType = "triple_top"
	TripleBottom            PatternType = "triple_bottom"
)

// Gap formations.
const (
	BreakawayGap  PatternType = "breakaway_gap"
	RunawayGap    PatternType = "runaway_gap"
	ExhaustionGap PatternType = "exhaustion_gap"
)

// Support and resistance interactions.
const (
	ResistanceBreakout  PatternType = "resistance_breakout"
	SupportBreakdown    PatternType = "support_breakdown"
	SupportBounce       PatternType = "support_bounce"
	ResistanceRejection PatternType = "resistance_rejection"
)

// PatternClass drives the order of lifecycle checks.
type PatternClass string

const (
	ClassReversal     PatternClass = "reversal"
	ClassContinuation PatternClass = "continuation"
	ClassNeutral      PatternClass = "neutral"
)

type typeInfo struct {
	category Category
	class    PatternClass
}

var typeRegistry = map[PatternType]typeInfo{
	BullishEngulfing:     {CategoryCandlestick, ClassReversal},
	BearishEngulfing:     {CategoryCandlestick, ClassReversal},
	Doji:                 {CategoryCandlestick, ClassNeutral},
	Hammer:               {CategoryCandlestick, ClassReversal},
	ShootingStar:         {CategoryCandlestick, ClassReversal},
	MorningStar:          {CategoryCandlestick, ClassReversal},
	EveningStar:          {CategoryCandlestick, ClassReversal},
	PiercingLine:         {CategoryCandlestick, ClassReversal},
	DarkCloudCover:       {CategoryCandlestick, ClassReversal},
	ThreeWhiteSoldiers:   {CategoryCandlestick, ClassContinuation},
	ThreeBlackCrows:      {CategoryCandlestick, ClassContinuation},
	BullishHarami:        {CategoryCandlestick, ClassReversal},
	BearishHarami:        {CategoryCandlestick, ClassReversal},
	BullishAbandonedBaby: {CategoryCandlestick, ClassReversal},
	BearishAbandonedBaby: {CategoryCandlestick, ClassReversal},

	HeadAndShoulders:        {CategoryChart, ClassReversal},
	InverseHeadAndShoulders: {CategoryChart, ClassReversal},
	AscendingTriangle:       {CategoryChart, ClassContinuation},
	DescendingTriangle:      {CategoryChart, ClassContinuation},
	SymmetricalTriangle:     {CategoryChart, ClassNeutral},
	RisingWedge:             {CategoryChart, ClassReversal},
	FallingWedge:            {CategoryChart, ClassReversal},
	BullFlag:                {CategoryChart, ClassContinuation},
	BearFlag:                {CategoryChart, ClassContinuation},
	Pennant:                 {CategoryChart, ClassContinuation},
	CupAndHandle:            {CategoryChart, ClassContinuation},
	Rectangle:               {CategoryChart, ClassNeutral},
	AscendingChannel:        {CategoryChart, ClassContinuation},
	DescendingChannel:       {CategoryChart, ClassContinuation},
	BroadeningFormation:     {CategoryChart, ClassNeutral},
	DiamondTop:              {CategoryChart, ClassReversal},
	RoundingBottom:          {CategoryChart, ClassReversal},
	DoubleTop:               {CategoryChart, ClassReversal},
	DoubleBottom:            {CategoryChart, ClassReversal},
	TripleTop:               {CategoryChart, ClassReversal},
	TripleBottom:            {CategoryChart, ClassReversal},

	BreakawayGap:  {CategoryGap, ClassContinuation},
	RunawayGap:    {CategoryGap, ClassContinuation},
	ExhaustionGap: {CategoryGap, ClassReversal},

	ResistanceBreakout:  {CategoryBreakout, ClassContinuation},
	SupportBreakdown:    {CategoryBreakout, ClassContinuation},
	SupportBounce:       {CategoryBreakout, ClassReversal},
	ResistanceRejection: {CategoryBreakout, ClassReversal},
}

// Known reports whether t is a recognised pattern type.
func (t PatternType) Known() bool {
	_, ok := typeRegistry[t]
	return ok
}

// Category returns the family t belongs to, or "" when unknown.
func (t PatternType) Category() Category {
	return typeRegistry[t].category
}

// Class returns the lifecycle class of t, or "" when unknown.
func (t PatternType) Class() PatternClass {
	return typeRegistry[t].class
}

// TypesIn returns every known pattern type belonging to c.
func TypesIn(c Category) []PatternType {
	var out []PatternType
	for t, info := range typeRegistry {
		if info.category == c {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
