package metrics

// Recorder adapts Metrics to the narrow interfaces the forest and the model
// server depend on, keeping those packages free of Prometheus imports.
type Recorder struct {
	m *Metrics
}

func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

func (r *Recorder) TreesTrainedInc() {
	r.m.TreesTrained.Inc()
}

func (r *Recorder) TrainFailuresInc() {
	r.m.TrainFailures.Inc()
}

func (r *Recorder) FitDurationObserve(v float64) {
	r.m.FitDuration.Observe(v)
}

func (r *Recorder) TreeDepthObserve(v float64) {
	r.m.TreeDepth.Observe(v)
}

func (r *Recorder) TreeNodesObserve(v float64) {
	r.m.TreeNodes.Observe(v)
}

func (r *Recorder) PredictionsAdd(v float64) {
	r.m.Predictions.Add(v)
}

func (r *Recorder) PredictLatencyObserve(v float64) {
	r.m.PredictLatency.Observe(v)
}

func (r *Recorder) RequestsInc() {
	r.m.RequestsTotal.Inc()
}

func (r *Recorder) ErrorsInc() {
	r.m.ErrorsTotal.Inc()
}

func (r *Recorder) WSSessionsAdd(v float64) {
	r.m.WSSessions.Add(v)
}

func (r *Recorder) ModelAgeSet(v float64) {
	r.m.ModelAge.Set(v)
}

func (r *Recorder) ModelAccuracySet(v float64) {
	r.m.ModelAccuracy.Set(v)
}
