package pipeline

import (
	"github.com/thalesfsp/pcsmac"
)

func init() {
	Register("one_hot_encoder", OneHotEncodingStep)
	Register("imputation", ImputationStep)
	Register("rescaling", RescalingStep)
	Register("balancing", BalancingStep)
	Register("feature_preprocessor", FeaturePreprocessingStep)
	Register("classifier", ClassificationStep)
}

// crossStepForbidden lists node combinations of different steps that cannot
// run together, e.g. multinomial naive Bayes on features that may be
// negative.
var crossStepForbidden = []pcsmac.ForbiddenClause{
	{
		{Key: "feature_preprocessor:__choice__", Value: "kernel_pca"},
		{Key: "classifier:__choice__", Value: "multinomial_nb"},
	},
	{
		{Key: "feature_preprocessor:__choice__", Value: "pca"},
		{Key: "classifier:__choice__", Value: "multinomial_nb"},
	},
	{
		{Key: "feature_preprocessor:__choice__", Value: "random_trees_embedding"},
		{Key: "classifier:__choice__", Value: "gaussian_nb"},
	},
	{
		{Key: "rescaling:__choice__", Value: "standardize"},
		{Key: "classifier:__choice__", Value: "multinomial_nb"},
	},
}

//////
// Helpers.
//////

func boolChoice(name, def string) *pcsmac.CategoricalHyperparameter {
	return pcsmac.NewCategorical(name, []string{"True", "False"}, def)
}

func floatRange(lo, hi float64) pcsmac.ParameterRange[float64] {
	return pcsmac.ParameterRange[float64]{Min: lo, Max: hi}
}

func intRange(lo, hi int64) pcsmac.ParameterRange[int64] {
	return pcsmac.ParameterRange[int64]{Min: lo, Max: hi}
}

//////
// Steps.
//////

// OneHotEncodingStep encodes categorical features.
func OneHotEncodingStep() Step {
	return Step{
		Name: "one_hot_encoder",
		Nodes: []Node{{
			Name: "one_hot_encoding",
			Hyperparameters: func(p string) []pcsmac.Hyperparameter {
				return []pcsmac.Hyperparameter{
					boolChoice(p+"use_minimum_fraction", "True"),
					pcsmac.NewFloat(p+"minimum_fraction", floatRange(0.0001, 0.5), 0.01, true),
				}
			},
			Conditions: func(p string) []pcsmac.Condition {
				return []pcsmac.Condition{{
					Child:  p + "minimum_fraction",
					Parent: p + "use_minimum_fraction",
					Values: []any{"True"},
				}}
			},
		}},
	}
}

// ImputationStep fills missing values. Its output is cached.
func ImputationStep() Step {
	return Step{
		Name: "imputation",
		Nodes: []Node{{
			Name: "imputation",
			Hyperparameters: func(p string) []pcsmac.Hyperparameter {
				return []pcsmac.Hyperparameter{
					pcsmac.NewCategorical(p+"strategy", []string{"mean", "median", "most_frequent"}, "mean"),
				}
			},
		}},
		Caching: true,
	}
}

// RescalingStep rescales features.
func RescalingStep() Step {
	return Step{
		Name: "rescaling",
		Nodes: []Node{
			{Name: "standardize"},
			{Name: "minmax"},
			{Name: "none"},
			{Name: "normalize"},
		},
	}
}

// BalancingStep reweights imbalanced classes.
func BalancingStep() Step {
	return Step{
		Name: "balancing",
		Nodes: []Node{{
			Name: "balancing",
			Hyperparameters: func(p string) []pcsmac.Hyperparameter {
				return []pcsmac.Hyperparameter{
					pcsmac.NewCategorical(p+"strategy", []string{"none", "weighting"}, "none"),
				}
			},
		}},
	}
}

// FeaturePreprocessingStep transforms or selects features. Its output is
// cached.
func FeaturePreprocessingStep() Step {
	return Step{
		Name: "feature_preprocessor",
		Nodes: []Node{
			{Name: "no_preprocessing"},
			{
				Name: "pca",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewFloat(p+"keep_variance", floatRange(0.5, 0.9999), 0.9999, false),
						pcsmac.NewCategorical(p+"whiten", []string{"False", "True"}, "False"),
					}
				},
			},
			{
				Name: "kernel_pca",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewInteger(p+"n_components", intRange(10, 2000), 100, true),
						pcsmac.NewCategorical(p+"kernel", []string{"poly", "rbf", "sigmoid", "cosine"}, "rbf"),
						pcsmac.NewFloat(p+"gamma", floatRange(3.0517578125e-05, 8), 1.0, true),
						pcsmac.NewInteger(p+"degree", intRange(2, 5), 3, false),
					}
				},
				Conditions: func(p string) []pcsmac.Condition {
					return []pcsmac.Condition{
						{Child: p + "gamma", Parent: p + "kernel", Values: []any{"poly", "rbf"}},
						{Child: p + "degree", Parent: p + "kernel", Values: []any{"poly"}},
					}
				},
			},
			{
				Name: "select_percentile",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewFloat(p+"percentile", floatRange(1, 99), 50, false),
						pcsmac.NewCategorical(p+"score_func", []string{"chi2", "f_classif"}, "chi2"),
					}
				},
			},
			{
				Name: "polynomial",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewInteger(p+"degree", intRange(2, 3), 2, false),
						pcsmac.NewCategorical(p+"interaction_only", []string{"False", "True"}, "False"),
						boolChoice(p+"include_bias", "True"),
					}
				},
			},
			{
				Name: "random_trees_embedding",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewInteger(p+"n_estimators", intRange(10, 100), 10, false),
						pcsmac.NewInteger(p+"max_depth", intRange(2, 10), 5, false),
					}
				},
			},
		},
		Caching: true,
	}
}

// ClassificationStep is the final estimator.
func ClassificationStep() Step {
	return Step{
		Name: "classifier",
		Nodes: []Node{
			{
				Name: "sgd",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewCategorical(p+"loss", []string{"hinge", "log", "modified_huber", "squared_hinge", "perceptron"}, "log"),
						pcsmac.NewCategorical(p+"penalty", []string{"l1", "l2", "elasticnet"}, "l2"),
						pcsmac.NewFloat(p+"alpha", floatRange(1e-7, 1e-1), 1e-4, true),
					}
				},
			},
			{
				Name: "random_forest",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewCategorical(p+"criterion", []string{"gini", "entropy"}, "gini"),
						pcsmac.NewFloat(p+"max_features", floatRange(0.5, 5), 1, false),
						pcsmac.NewInteger(p+"min_samples_split", intRange(2, 20), 2, false),
						boolChoice(p+"bootstrap", "True"),
					}
				},
			},
			{
				Name: "k_nearest_neighbors",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewInteger(p+"n_neighbors", intRange(1, 100), 1, true),
						pcsmac.NewCategorical(p+"weights", []string{"uniform", "distance"}, "uniform"),
						pcsmac.NewInteger(p+"p", intRange(1, 2), 2, false),
					}
				},
			},
			{
				Name: "multinomial_nb",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewFloat(p+"alpha", floatRange(1e-2, 100), 1, true),
						boolChoice(p+"fit_prior", "True"),
					}
				},
			},
			{Name: "gaussian_nb"},
			{
				Name: "liblinear_svc",
				Hyperparameters: func(p string) []pcsmac.Hyperparameter {
					return []pcsmac.Hyperparameter{
						pcsmac.NewCategorical(p+"penalty", []string{"l1", "l2"}, "l2"),
						pcsmac.NewCategorical(p+"loss", []string{"hinge", "squared_hinge"}, "squared_hinge"),
						pcsmac.NewFloat(p+"C", floatRange(0.03125, 32768), 1, true),
					}
				},
				Forbidden: func(p string) []pcsmac.ForbiddenClause {
					return []pcsmac.ForbiddenClause{{
						{Key: p + "penalty", Value: "l1"},
						{Key: p + "loss", Value: "hinge"},
					}}
				},
			},
		},
	}
}
