// Package glm fits first-level general linear models per functional run. The
// design is rendered as a FEAT design.fsf, expanded into a design matrix by
// feat_model and fitted by fsl_glm.
package glm
